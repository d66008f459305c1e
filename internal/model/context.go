package model

// Context is one retrieved evidence unit attached to a message. Citations reference it by
// 1-based position in Message.Contexts.
type Context struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	ReadableFilename string `json:"readable_filename"`
	// URL is a direct source link; when empty, S3Path is resolved via the presign service.
	URL        string `json:"url,omitempty"`
	S3Path     string `json:"s3_path,omitempty"`
	PageNumber *int   `json:"pagenumber,omitempty"`
}

// Title is the display name used in citation links.
func (c Context) Title() string {
	if c.ReadableFilename != "" {
		return c.ReadableFilename
	}
	return c.ID
}
