// Command inspect prints the notification ledger stored by the relay.
package main

import (
	"chat-relay/domain"
	"chat-relay/repositories"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data", "Path to badger DB")
	pendingOnly := flag.Bool("pending", false, "Only list records that were never sent")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	store := repositories.NewNotificationRepository(db, slog.Default())
	var records []domain.NotificationRecord
	if *pendingOnly {
		records, err = store.PendingNotifications(context.Background())
	} else {
		records, err = store.AllNotifications()
	}
	if err != nil {
		log.Fatal("Error while reading notifications: ", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Type", "To", "Subject", "State", "Created", "Sent", "Last error"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, record := range records {
		sent := "-"
		if record.SentAt != nil {
			sent = record.SentAt.Format(time.DateTime)
		}
		table.Append([]string{
			record.ID.String(),
			record.Type,
			record.To,
			record.Subject,
			state(record.State),
			record.CreatedAt.Format(time.DateTime),
			sent,
			record.LastError,
		})
	}
	table.Render()
	fmt.Printf("\n%d record(s)\n", len(records))
}

func state(s domain.NotificationState) string {
	switch s {
	case domain.NotificationSent:
		return color.FgGreen.Render(string(s))
	case domain.NotificationFailed:
		return color.FgRed.Render(string(s))
	default:
		return color.FgYellow.Render(string(s))
	}
}
