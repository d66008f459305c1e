package provider

import (
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"lumen.app/relay/internal/model"
)

const maxErrorBody = 64 << 10

// decodeError builds a ProviderError from a non-2xx response. Every supported backend nests
// its error under "error", either as an object or as a bare string.
func decodeError(name model.ProviderName, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return errorFromBody(name, resp.StatusCode, body)
}

func errorFromBody(name model.ProviderName, status int, body []byte) *model.ProviderError {
	perr := &model.ProviderError{
		Provider: name,
		Status:   status,
		Body:     strings.TrimSpace(string(body)),
	}
	if !gjson.ValidBytes(body) {
		return perr
	}

	e := gjson.GetBytes(body, "error")
	switch {
	case e.Type == gjson.String:
		perr.Message = e.String()
	case e.IsObject():
		perr.Message = e.Get("message").String()
		perr.Type = e.Get("type").String()
		if perr.Type == "" {
			perr.Type = e.Get("status").String()
		}
		perr.Param = e.Get("param").String()
		perr.Code = e.Get("code").String()
	}
	return perr
}
