package archive

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

var (
	sanitizer   = bluemonday.UGCPolicy()
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

// Markdown sanitises an archived page and converts it to Markdown. Links
// are resolved against pageURL.
func Markdown(page []byte, pageURL string) ([]byte, error) {
	clean := sanitizer.SanitizeBytes(page)
	md, err := mdConverter.ConvertString(string(clean), converter.WithDomain(pageURL))
	if err != nil {
		return nil, fmt.Errorf("archive: markdown: %w", err)
	}
	return []byte(md), nil
}
