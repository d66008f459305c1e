package citation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lumen.app/relay/internal/model"
)

// Presigner resolves an object-storage path to a temporary URL. It returns "" when the
// object is unknown.
type Presigner interface {
	Presign(ctx context.Context, path, projectName string) (string, error)
}

// Resolver renders citation indices as markdown links. It holds no per-turn state and is
// shared across turns; the per-turn LinkCache is passed in.
type Resolver struct {
	presigner Presigner
	sanitizer *Sanitizer
}

func NewResolver(presigner Presigner) *Resolver {
	return &Resolver{
		presigner: presigner,
		sanitizer: NewSanitizer(),
	}
}

// Resolve builds the replacement text for 1-based indices into contexts. Out-of-range
// indices are dropped; ok is false when none remain, and the caller keeps the original markup.
func (r *Resolver) Resolve(ctx context.Context, indices []int, pageOverride *int, contexts []model.Context, cache *LinkCache, projectName string) (string, bool) {
	entries := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > len(contexts) {
			continue
		}
		entries = append(entries, r.entry(ctx, idx, pageOverride, contexts[idx-1], cache, projectName))
	}
	if len(entries) == 0 {
		return "", false
	}
	return strings.Join(entries, "; "), true
}

func (r *Resolver) entry(ctx context.Context, idx int, pageOverride *int, src model.Context, cache *LinkCache, projectName string) string {
	title := r.sanitizer.Title(src.Title())
	page := pageOverride
	if page == nil {
		page = src.PageNumber
	}
	if page != nil {
		title = fmt.Sprintf("%s, p.%d", title, *page)
	}

	link, ok := r.sanitizer.URL(r.link(ctx, idx, src, cache, projectName))
	if !ok {
		return title
	}
	if page != nil {
		link = withPage(link, *page)
	}
	return fmt.Sprintf(`[%s](%s "Citation %d")`, title, link, idx)
}

// link picks the source locator: the direct URL, else a presigned object-storage URL.
func (r *Resolver) link(ctx context.Context, idx int, src model.Context, cache *LinkCache, projectName string) string {
	if src.URL != "" {
		return src.URL
	}
	if src.S3Path == "" || r.presigner == nil {
		return ""
	}

	fetch := func(ctx context.Context) (string, error) {
		return r.presigner.Presign(ctx, src.S3Path, projectName)
	}

	var (
		link string
		err  error
	)
	if cache != nil {
		link, err = cache.Get(ctx, idx, fetch)
	} else {
		link, err = fetch(ctx)
	}
	if err != nil {
		slog.WarnContext(ctx, "presigned url lookup failed, citing without link",
			"citation_index", idx,
			"s3_path", src.S3Path,
			"error", err)
		return ""
	}
	return link
}

func withPage(link string, page int) string {
	if i := strings.IndexByte(link, '#'); i >= 0 {
		link = link[:i]
	}
	return fmt.Sprintf("%s#page=%d", link, page)
}
