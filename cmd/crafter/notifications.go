package main

import (
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"crafter/internal/notify"
)

// printNotifications renders the notifications that have not expired yet and
// dismisses them.
func printNotifications(w io.Writer, c *notify.Center) {
	active := c.Active()
	if len(active) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Type", "Message", "Age"})
	table.SetAutoWrapText(false)
	for _, n := range active {
		table.Append([]string{string(n.Level), n.Message, time.Since(n.CreatedAt).Round(time.Second).String()})
		c.Dismiss(n.ID)
	}
	table.Render()
}
