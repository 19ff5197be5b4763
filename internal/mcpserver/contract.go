package mcpserver

import (
	"fmt"
	"strings"
)

// TagOrderURI is the resource describing how tags are ordered for display.
const TagOrderURI = "albumshare://tag-order"

const tagOrderTemplate = `# Album Tag Order

Tags on a photo are always listed in this order:

1. **People**, in the configured order: %s.
2. **Years** ascending (four digits, 1900-2099), e.g. ` + "`1987`, `2020`" + `.
3. **Months** in calendar order, full English names (` + "`January` … `December`" + `).
4. Everything else alphabetically.

## Derived tags

The year and month are read off the photo key (e.g. ` + "`2020_June_Beach.jpg`" + `)
and added unless the stored tags already carry a year or month. A photo whose
tag lookup failed still shows its derived tags.

## Filtering

- One tag at a time (selecting the active tag again clears it).
- Any number of years and months; a photo matches when it carries at least one
  selected year AND at least one selected month.
- Tag, years and months combine with AND.
`

// TagOrderDoc renders the tag-order resource for people.
func TagOrderDoc(people []string) string {
	list := "none configured"
	if len(people) > 0 {
		list = "`" + strings.Join(people, "`, `") + "`"
	}
	return fmt.Sprintf(tagOrderTemplate, list)
}
