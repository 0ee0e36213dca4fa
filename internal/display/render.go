package display

import (
	"fmt"
	"strings"

	"github.com/guildtrack/tracker/internal/config"
	"github.com/guildtrack/tracker/internal/models"
)

// RenderPages renders the ordered member list into fixed-capacity pages.
// Each page holds up to MembersPerColumn * ColumnsPerPage members, split into
// ColumnsPerPage columns of ceil(pageLen/columns) rows, assigned row-major
// with a running global index label.
func RenderPages(guildName string, members []models.Member, cfg config.DisplayConfig) []models.PageContent {
	capacity := cfg.PageCapacity()
	if capacity <= 0 || len(members) == 0 {
		return nil
	}

	pageCount := (len(members) + capacity - 1) / capacity
	pages := make([]models.PageContent, 0, pageCount)

	for pageIdx := 0; pageIdx < pageCount; pageIdx++ {
		start := pageIdx * capacity
		end := min(start+capacity, len(members))
		chunk := members[start:end]

		page := models.PageContent{
			Title:  fmt.Sprintf("%s MEMBER LIST", strings.ToUpper(guildName)),
			Color:  cfg.EmbedColor,
			Footer: fmt.Sprintf("Page %d of %d", pageIdx+1, pageCount),
		}

		columnSize := (len(chunk) + cfg.ColumnsPerPage - 1) / cfg.ColumnsPerPage
		for col := 0; col < cfg.ColumnsPerPage; col++ {
			colStart := col * columnSize
			if colStart >= len(chunk) {
				break
			}
			colEnd := min(colStart+columnSize, len(chunk))

			lines := make([]string, 0, colEnd-colStart)
			for i, member := range chunk[colStart:colEnd] {
				globalIndex := start + colStart + i + 1
				lines = append(lines, fmt.Sprintf("`%3d` %s", globalIndex, member.Name))
			}

			page.Columns = append(page.Columns, models.PageColumn{
				Name:  fmt.Sprintf("Group %d", col+1),
				Lines: lines,
			})
		}

		pages = append(pages, page)
	}

	return pages
}
