package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

// Debug tool: dumps the coordinator's local BadgerDB copy.
// Keys follow the store scheme: "msg:", "react:" and "seen:" prefixes.
func main() {
	dbPath := flag.String("db", "/tmp/tarot-live", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg:, react: or seen:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Session", "Sender", "Timestamp", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			rawKey := string(item.Key())

			err := item.Value(func(v []byte) error {
				// "seen:" values are raw nanosecond timestamps, not JSON
				if len(rawKey) > 5 && rawKey[:5] == "seen:" {
					var nanos int64
					fmt.Sscanf(string(v), "%d", &nanos)
					table.Append([]string{
						rawKey, "", rawKey[5:],
						time.Unix(0, nanos).Format("15:04:05"), "",
					})
					return nil
				}

				var record struct {
					SessionID string          `json:"session_id"`
					SenderID  string          `json:"sender_id"`
					UserID    string          `json:"user_id"`
					Value     string          `json:"value"`
					Payload   json.RawMessage `json:"payload"`
					At        int64           `json:"at"`
				}
				if err := json.Unmarshal(v, &record); err != nil {
					// Log and keep scanning instead of stopping the whole dump
					fmt.Printf("Error unmarshaling key %s: %v\n", rawKey, err)
					return nil
				}

				sender := record.SenderID
				if sender == "" {
					sender = record.UserID
				}

				detail := record.Value
				if len(record.Payload) > 0 {
					detail = string(record.Payload)
				}
				if len(detail) > 60 {
					detail = detail[:60] + "..."
				}

				table.Append([]string{
					rawKey,
					record.SessionID,
					sender,
					time.Unix(0, record.At).Format("15:04:05"),
					detail,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	return badger.Open(opts)
}
