package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/models"
)

const dateLayout = "2006-01-02"

type filterFlags struct {
	search   string
	urgent   bool
	clients  bool
	partners bool
	from     string
	to       string
	read     string
	sort     string
	order    string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.search, "search", "s", "", "fuzzy search over project, partner and last message")
	flags.BoolVar(&f.urgent, "urgent", false, "only urgent conversations")
	flags.BoolVar(&f.clients, "clients", false, "only client conversations")
	flags.BoolVar(&f.partners, "partners", false, "only partner conversations")
	flags.StringVar(&f.from, "from", "", "earliest activity date (YYYY-MM-DD or RFC3339)")
	flags.StringVar(&f.to, "to", "", "latest activity date, inclusive (YYYY-MM-DD or RFC3339)")
	flags.StringVar(&f.read, "read", "all", "read state: all, read, unread")
	flags.StringVar(&f.sort, "sort", string(models.SortByLastMessageAt), "sort field: last_message_at, priority, status, partner_name")
	flags.StringVar(&f.order, "order", string(models.SortDesc), "sort order: asc, desc")
}

func (f *filterFlags) build() (models.Filter, models.Sort, error) {
	readStatus, err := models.ParseReadStatus(f.read)
	if err != nil {
		return models.Filter{}, models.Sort{}, err
	}

	filter := models.Filter{
		SearchText:   f.search,
		UrgentOnly:   f.urgent,
		ClientsOnly:  f.clients,
		PartnersOnly: f.partners,
		ReadStatus:   readStatus,
	}
	if f.from != "" {
		from, _, err := parseDate(f.from)
		if err != nil {
			return models.Filter{}, models.Sort{}, fmt.Errorf("--from: %w", err)
		}
		filter.DateRange.From = from
	}
	if f.to != "" {
		to, dayOnly, err := parseDate(f.to)
		if err != nil {
			return models.Filter{}, models.Sort{}, fmt.Errorf("--to: %w", err)
		}
		if dayOnly {
			to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		filter.DateRange.To = to
	}

	sort := models.Sort{
		Field: models.SortField(strings.ToLower(strings.TrimSpace(f.sort))),
		Order: models.SortOrder(strings.ToLower(strings.TrimSpace(f.order))),
	}.Normalize()
	if err := sort.Validate(); err != nil {
		return models.Filter{}, models.Sort{}, err
	}
	return filter, sort, nil
}

// parseDate accepts a local calendar day or an RFC3339 instant and reports
// whether value was a bare day.
func parseDate(value string) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if t, err := time.ParseInLocation(dateLayout, value, time.Local); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC3339)", value)
	}
	return t, false, nil
}
