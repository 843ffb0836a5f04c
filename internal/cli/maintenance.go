package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <session-id>",
	Short: "Archive a session's window now",
	Long: `Archive everything outside the preserved tail of a session's active
window, regardless of the token ceiling.`,
	Args: cobra.ExactArgs(1),
	RunE: runArchive,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache-wide statistics",
	RunE:  runStats,
}

var cleanupRetention int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete sessions idle past the retention window",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupRetention, "retention-days", -1,
		"override configured retention (days)")

	rootCmd.AddCommand(archiveCmd, statsCmd, cleanupCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, st, err := openManager(cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer st.Close()
	defer manager.Close()

	archiveID, err := manager.ForceArchive(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archived %s -> %s\n", args[0], archiveID)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, st, err := openManager(cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer st.Close()
	defer manager.Close()

	stats, err := manager.Stats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sessions:        %d\n", stats.SessionCount)
	fmt.Fprintf(out, "Messages:        %d\n", stats.MessageCount)
	fmt.Fprintf(out, "Archives:        %d\n", stats.ArchiveCount)
	fmt.Fprintf(out, "Active tokens:   %d\n", stats.ActiveTokens)
	fmt.Fprintf(out, "Archived tokens: %d\n", stats.ArchivedTokens)
	fmt.Fprintf(out, "Storage:         %s\n", formatBytes(stats.StorageBytes))
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, st, err := openManager(cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer st.Close()
	defer manager.Close()

	retention := cfg.Cache.RetentionDays
	if cleanupRetention >= 0 {
		retention = cleanupRetention
	}

	deleted, err := manager.Cleanup(retention)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d stale session(s) (retention %d days)\n", deleted, retention)
	return nil
}
