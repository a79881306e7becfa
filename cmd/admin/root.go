package admin

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aspendb/aspen/cmd/util"
	"github.com/aspendb/aspen/lib/db"
)

// AdminCommands represents the admin command group. All commands operate
// directly on local database files, the server must not be running on them.
var AdminCommands = &cobra.Command{
	Use:   "admin",
	Short: "Offline maintenance of local database files",
}

func init() {
	AdminCommands.AddCommand(infoCmd)
	AdminCommands.AddCommand(compactCmd)
	AdminCommands.AddCommand(backupCmd)
	AdminCommands.AddCommand(restoreCmd)
}

var (
	infoCmd = &cobra.Command{
		Use:   "info [file]",
		Short: "Prints size and page statistics of a database file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := db.Open(args[0], &db.Options{ReadOnly: true})
			if err != nil {
				return err
			}
			defer engine.Close()

			info, err := engine.GetInfo()
			if err != nil {
				return err
			}

			fmt.Printf("path           : %s\n", info.Path)
			fmt.Printf("tx id          : %d\n", info.TxID)
			fmt.Printf("size           : %s\n", humanize.IBytes(info.SizeBytes))
			fmt.Printf("pages          : %d (%d free, %d pending)\n", info.PageCount, info.FreePages, info.PendingPages)
			fmt.Printf("buckets        : %d\n", len(info.Buckets))
			for _, name := range info.Buckets {
				fmt.Printf("  - %s\n", name)
			}
			if info.ValueSizes.Sampled > 0 {
				fmt.Printf("value sizes    : avg %s, median %s, p99 %s (%d sampled)\n",
					humanize.IBytes(uint64(info.ValueSizes.Average)),
					humanize.IBytes(info.ValueSizes.Median),
					humanize.IBytes(info.ValueSizes.P99),
					info.ValueSizes.Sampled)
			}
			return nil
		},
	}

	compactCmd = &cobra.Command{
		Use:   "compact [src] [dst]",
		Short: "Rewrites a database file into a fresh compact copy",
		Long:  util.WrapString("Rewrites a database file into a fresh compact copy. The source is opened read-only, the destination must not exist yet. Free and pending pages are not carried over, so the copy is as small as the live data allows."),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := args[0], args[1]

			if _, err := os.Stat(dst); err == nil {
				return fmt.Errorf("destination %s already exists", dst)
			}

			srcEngine, err := db.Open(src, &db.Options{ReadOnly: true})
			if err != nil {
				return err
			}
			defer srcEngine.Close()

			dstEngine, err := db.Open(dst, nil)
			if err != nil {
				return err
			}
			defer dstEngine.Close()

			if err := srcEngine.CompactTo(dstEngine); err != nil {
				return err
			}
			fmt.Printf("compacted %s to %s\n", src, dst)
			return nil
		},
	}

	backupCmd = &cobra.Command{
		Use:   "backup [file] [out]",
		Short: "Writes a compressed backup of a database file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := db.Open(args[0], &db.Options{ReadOnly: true})
			if err != nil {
				return err
			}
			defer engine.Close()

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer out.Close()

			if err := engine.Backup(out); err != nil {
				return err
			}
			fmt.Printf("backup written to %s\n", args[1])
			return nil
		},
	}

	restoreCmd = &cobra.Command{
		Use:   "restore [file] [in]",
		Short: "Restores a backup stream into a database file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := db.Open(args[0], nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			in, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer in.Close()

			if err := engine.Restore(in); err != nil {
				return err
			}
			fmt.Printf("restored %s from %s\n", args[0], args[1])
			return nil
		},
	}
)
