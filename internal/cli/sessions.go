package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached sessions",
	Long:  `List cached sessions, most recently updated first.`,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its archives",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var (
	exportOutput     string
	exportNoArchives bool
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session as self-contained JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum sessions to list")
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "skip the confirmation prompt")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	exportCmd.Flags().BoolVar(&exportNoArchives, "no-archives", false, "omit archive bodies from the export")

	rootCmd.AddCommand(listCmd, showCmd, deleteCmd, exportCmd)
}

func runList(cmd *cobra.Command, args []string) error {
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

	sessions, err := manager.List(listLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMESSAGES\tACTIVE\tTOTAL\tARCHIVES\tHEALTH\tUPDATED")
	for _, sum := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			sum.ID, sum.MessageCount, sum.ActiveTokens, sum.TotalTokens,
			sum.ArchiveCount, manager.Health(sum), formatTime(sum.UpdatedAt))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
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

	id := args[0]
	sess, err := manager.Get(id)
	if err != nil {
		return err
	}
	archives, err := manager.Archives(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session:       %s\n", sess.ID)
	fmt.Fprintf(out, "Created:       %s\n", formatTime(sess.CreatedAt))
	fmt.Fprintf(out, "Updated:       %s\n", formatTime(sess.UpdatedAt))
	fmt.Fprintf(out, "Messages:      %d active\n", len(sess.Messages))
	fmt.Fprintf(out, "Active tokens: %d / %d\n", sess.ActiveTokens, cfg.Cache.MaxActiveTokens)
	fmt.Fprintf(out, "Total tokens:  %d\n", sess.TotalTokens)
	fmt.Fprintf(out, "Health:        %s\n", manager.Health(summaryOf(sess)))

	if len(archives) > 0 {
		fmt.Fprintf(out, "\nArchives (%d):\n", len(archives))
		for _, a := range archives {
			fmt.Fprintf(out, "  %s  %d msgs  %d -> %d tokens  %s\n",
				a.ID, a.MessageCount, a.OriginalTokens, a.SummaryTokens,
				formatTime(a.CreatedAt))
			fmt.Fprintf(out, "    %s\n", firstLine(a.Summary))
		}
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
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

	id := args[0]
	if !deleteForce {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete session %s and all its archives? [y/N] ", id)
		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	if err := manager.Delete(id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
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

	rec, err := manager.Export(args[0], !exportNoArchives)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	if exportOutput == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	if err := os.WriteFile(exportOutput, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", args[0], exportOutput)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
