package object

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aspendb/aspen/lib/object"
	"github.com/aspendb/aspen/lib/query"
)

// parseRecord parses a JSON object into a record. Number values arrive as
// float64 and are coerced by the server against the collection's schema.
func parseRecord(raw string) (object.Record, error) {
	var rec object.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("record must be a JSON object: %w", err)
	}
	return rec, nil
}

// parseKey parses a primary key argument. JSON literals (numbers, quoted
// strings, booleans) are taken as typed values, everything else as a string.
func parseKey(arg string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

func printRecord(rec object.Record) error {
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var (
	insertCmd = &cobra.Command{
		Use:   "insert [collection] [record]",
		Short: "Inserts a new record, failing if the primary key exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := parseRecord(args[1])
			if err != nil {
				return err
			}
			if err := rpcClient.Insert(args[0], rec); err != nil {
				return err
			} else {
				fmt.Println("insert successfully")
			}
			return nil
		},
	}
	upsertCmd = &cobra.Command{
		Use:   "upsert [collection] [record]",
		Short: "Stores a record, replacing any existing version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := parseRecord(args[1])
			if err != nil {
				return err
			}
			if err := rpcClient.Upsert(args[0], rec); err != nil {
				return err
			} else {
				fmt.Println("upsert successfully")
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [collection] [key]",
		Short: "Reads the record for a primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, found, err := rpcClient.Get(args[0], parseKey(args[1]))
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("key=%s, found=false\n", args[1])
				return nil
			}
			return printRecord(rec)
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [collection] [key]",
		Short: "Checks if a record exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := rpcClient.Has(args[0], parseKey(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[1], found)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [collection] [key]",
		Short: "Deletes the record for a primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := rpcClient.Delete(args[0], parseKey(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, removed=%t\n", args[1], removed)
			return nil
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [query]",
		Short: "Runs a JSON query and prints all matching records",
		Long:  `Runs a JSON query and prints all matching records. Example query: '{"collection":"users","where":{"op":"eq","prop":"name","value":"ada"},"limit":10}'`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var q query.Query
			if err := json.Unmarshal([]byte(args[0]), &q); err != nil {
				return fmt.Errorf("invalid query: %w", err)
			}
			records, err := rpcClient.Query(&q)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if err := printRecord(rec); err != nil {
					return err
				}
			}
			fmt.Printf("%d record(s)\n", len(records))
			return nil
		},
	}
	changesCmd = &cobra.Command{
		Use:   "changes [collection] [since]",
		Short: "Polls the change sets committed after a transaction id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			since, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("since must be a number: %w", err)
			}
			sets, latest, err := rpcClient.Changes(args[0], since)
			if err != nil {
				return err
			}
			for _, cs := range sets {
				fmt.Printf("tx=%d inserted=%d modified=%d deleted=%d\n",
					cs.TxID, len(cs.Inserted), len(cs.Modified), len(cs.Deleted))
			}
			fmt.Printf("latest=%d\n", latest)
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints the server-side database info",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcClient.Info()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)
