package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pairCmd)
	pairCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	pairCmd.AddCommand(generateCodeCmd())
	pairCmd.AddCommand(acceptCodeCmd())

	rootCmd.AddCommand(connectionsCmd())
	rootCmd.AddCommand(revokeCmd())

	rootCmd.AddCommand(syncCmd)
	syncCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	syncCmd.AddCommand(runSyncCmd())
	syncCmd.AddCommand(backfillCmd())

	rootCmd.AddCommand(mappingCmd)
	mappingCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	mappingCmd.AddCommand(mappingPlanCmd())
	mappingCmd.AddCommand(mappingActivateCmd())

	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	conflictsCmd.AddCommand(resolveConflictCmd())

	rootCmd.AddCommand(mergeCmd())
	rootCmd.AddCommand(unmergeCmd())

	rootCmd.AddCommand(contextCmd())
}

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "pairing commands",
}

func generateCodeCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "generate",
		Short: "generate a pairing code to hand to the other side",
		Run: func(cmd *cobra.Command, args []string) {
			var res struct {
				Code      string `json:"code"`
				ExpiresAt string `json:"expires_at"`
			}
			if err := callLocal("POST", "/v1/local/pairing/generate", struct{}{}, &res); err != nil {
				return
			}
			color.Green("pairing code: %s", res.Code)
			fmt.Println("expires at:", res.ExpiresAt)
		},
	}

	return command
}

func acceptCodeCmd() *cobra.Command {
	var code string
	var peerURL string
	var peerApp string

	var required = []string{"code", "peer-url"}

	command := &cobra.Command{
		Use:     "accept",
		Short:   "redeem a code generated on the other side",
		Example: "kinsync pair accept -c A1B2C3 -u https://journal.example.com",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			var res struct {
				ID      string `json:"id"`
				PeerApp string `json:"peer_app"`
			}
			body := map[string]string{
				"code":          code,
				"peer_base_url": peerURL,
				"peer_app":      peerApp,
			}
			if err := callLocal("POST", "/v1/local/pairing/accept", body, &res); err != nil {
				return
			}
			if res.PeerApp != "" {
				color.Green("paired with %s, connection %s", res.PeerApp, res.ID)
			} else {
				color.Green("paired, connection %s", res.ID)
			}
		},
	}

	command.Flags().StringVarP(&code, "code", "c", "", "pairing code")
	command.Flags().StringVarP(&peerURL, "peer-url", "u", "", "counterpart base url")
	command.Flags().StringVarP(&peerApp, "peer-app", "a", "", "counterpart app name")

	return command
}

func connectionsCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "connections",
		Short: "list connections",
		Run: func(cmd *cobra.Command, args []string) {
			var res []struct {
				ID          string `json:"id"`
				PeerApp     string `json:"peer_app"`
				PeerBaseURL string `json:"peer_base_url"`
				Status      string `json:"status"`
				PulledTo    uint64 `json:"pulled_to"`
				ServedTo    uint64 `json:"served_to"`
			}
			if err := callLocal("GET", "/v1/local/connections", nil, &res); err != nil {
				return
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Peer", "URL", "Status", "Pulled", "Served"})
			for _, s := range res {
				table.Append([]string{
					s.ID,
					s.PeerApp,
					s.PeerBaseURL,
					s.Status,
					strconv.FormatUint(s.PulledTo, 10),
					strconv.FormatUint(s.ServedTo, 10),
				})
			}
			table.Render()
		},
	}

	return command
}

func revokeCmd() *cobra.Command {
	var connectionID string
	var reason string

	var required = []string{"connection-id"}

	command := &cobra.Command{
		Use:   "revoke",
		Short: "revoke a connection",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			var res struct {
				OK             bool `json:"ok"`
				AlreadyRevoked bool `json:"already_revoked"`
			}
			body := map[string]string{"connection_id": connectionID, "reason": reason}
			if err := callLocal("POST", "/v1/local/connections/revoke", body, &res); err != nil {
				return
			}
			if res.AlreadyRevoked {
				fmt.Println("connection was already revoked")
				return
			}
			color.Green("connection revoked")
		},
	}

	command.Flags().StringVarP(&connectionID, "connection-id", "n", "", "connection id")
	command.Flags().StringVarP(&reason, "reason", "r", "", "reason sent to the counterpart")

	return command
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "sync commands",
}

func runSyncCmd() *cobra.Command {
	var connectionID string

	var required = []string{"connection-id"}

	command := &cobra.Command{
		Use:   "run",
		Short: "pull and apply changes from the counterpart",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			var res struct {
				Pulled    int `json:"pulled"`
				Applied   int `json:"applied"`
				Skipped   int `json:"skipped"`
				Pushed    int `json:"pushed"`
				Conflicts []struct {
					EntityUID  string `json:"entity_uid"`
					ConflictID uint   `json:"conflict_id"`
				} `json:"conflicts"`
			}
			body := map[string]string{"connection_id": connectionID}
			if err := callLocal("POST", "/v1/local/sync/run", body, &res); err != nil {
				return
			}

			fmt.Printf("pulled %d, applied %d, skipped %d, pushed %d\n", res.Pulled, res.Applied, res.Skipped, res.Pushed)
			for _, c := range res.Conflicts {
				color.Yellow("conflict %d on %s, resolve with: kinsync conflicts resolve -i %d -r keep_local|accept_remote", c.ConflictID, c.EntityUID, c.ConflictID)
			}
		},
	}

	command.Flags().StringVarP(&connectionID, "connection-id", "n", "", "connection id")

	return command
}

func backfillCmd() *cobra.Command {
	var connectionID string

	var required = []string{"connection-id"}

	command := &cobra.Command{
		Use:   "backfill",
		Short: "queue full history for every linked person",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			var res struct {
				People  int `json:"people"`
				Moments int `json:"moments"`
			}
			body := map[string]string{"connection_id": connectionID}
			if err := callLocal("POST", "/v1/local/sync/backfill", body, &res); err != nil {
				return
			}
			fmt.Printf("queued %d people and %d moments\n", res.People, res.Moments)
		},
	}

	command.Flags().StringVarP(&connectionID, "connection-id", "n", "", "connection id")

	return command
}

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "person mapping commands",
}

func mappingPlanCmd() *cobra.Command {
	var connectionID string

	var required = []string{"connection-id"}

	command := &cobra.Command{
		Use:   "plan",
		Short: "show the staged person mapping with suggestions",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			var res struct {
				Local []struct {
					Key         string `json:"key"`
					Name        string `json:"name"`
					Disposition string `json:"disposition"`
					PartnerKey  string `json:"partner_key"`
					Source      string `json:"source"`
				} `json:"local"`
				Suggestions []struct {
					LocalName  string  `json:"local_name"`
					RemoteName string  `json:"remote_name"`
					Score      float64 `json:"score"`
					Reason     string  `json:"reason"`
				} `json:"suggestions"`
			}
			if err := callLocal("GET", "/v1/local/mapping/plan?connection_id="+connectionID, nil, &res); err != nil {
				return
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"UID", "Name", "Disposition", "Partner", "Source"})
			for _, item := range res.Local {
				table.Append([]string{item.Key, item.Name, item.Disposition, item.PartnerKey, item.Source})
			}
			table.Render()

			for _, s := range res.Suggestions {
				color.Cyan("suggested: %q <-> %q (%s)", s.LocalName, s.RemoteName, s.Reason)
			}
		},
	}

	command.Flags().StringVarP(&connectionID, "connection-id", "n", "", "connection id")

	return command
}

func mappingActivateCmd() *cobra.Command {
	var connectionID string
	var links []string
	var excludes []string

	var required = []string{"connection-id"}

	command := &cobra.Command{
		Use:     "activate",
		Short:   "activate the mapping, applying any link/exclude decisions",
		Example: "kinsync mapping activate -n <connection-id> --link <local-uid>=<remote-uid> --exclude <local-uid>",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			type entry struct {
				Side       string `json:"side"`
				Key        string `json:"key"`
				Action     string `json:"action"`
				PartnerKey string `json:"partner_key,omitempty"`
			}

			entries := make([]entry, 0)
			for _, link := range links {
				parts := strings.SplitN(link, "=", 2)
				if len(parts) != 2 {
					color.Red("bad --link value %q, expected <local-uid>=<remote-uid>", link)
					return
				}
				entries = append(entries, entry{Side: "local", Key: parts[0], Action: "link", PartnerKey: parts[1]})
			}
			for _, uid := range excludes {
				entries = append(entries, entry{Side: "local", Key: uid, Action: "do_not_sync"})
			}

			var res struct {
				Linked         int      `json:"linked"`
				Excluded       int      `json:"excluded"`
				CreatedRemote  int      `json:"created_remote"`
				CreatedLocal   int      `json:"created_local"`
				Detached       int      `json:"detached"`
				PendingIntents int      `json:"pending_intents"`
				Notices        []string `json:"notices"`
			}
			body := map[string]interface{}{
				"connection_id": connectionID,
				"entries":       entries,
			}
			if err := callLocal("POST", "/v1/local/mapping/activate", body, &res); err != nil {
				return
			}

			for _, notice := range res.Notices {
				color.Yellow("%s", notice)
			}
			fmt.Printf("linked %d, excluded %d, created %d remote and %d local, detached %d\n",
				res.Linked, res.Excluded, res.CreatedRemote, res.CreatedLocal, res.Detached)
			if res.PendingIntents > 0 {
				color.Yellow("%d remote creations are pending and will be retried", res.PendingIntents)
			}
		},
	}

	command.Flags().StringVarP(&connectionID, "connection-id", "n", "", "connection id")
	command.Flags().StringArrayVar(&links, "link", nil, "link <local-uid>=<remote-uid>")
	command.Flags().StringArrayVar(&excludes, "exclude", nil, "exclude a local person from sync")

	return command
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "list open conflicts",
	Run: func(cmd *cobra.Command, args []string) {
		var res []struct {
			ID         uint   `json:"id"`
			EntityType string `json:"entity_type"`
			EntityUID  string `json:"entity_uid"`
		}
		if err := callLocal("GET", "/v1/local/conflicts", nil, &res); err != nil {
			return
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Type", "UID"})
		for _, c := range res {
			table.Append([]string{strconv.FormatUint(uint64(c.ID), 10), c.EntityType, c.EntityUID})
		}
		table.Render()
	},
}

func resolveConflictCmd() *cobra.Command {
	var conflictID uint
	var resolution string

	var required = []string{"conflict-id", "resolution"}

	command := &cobra.Command{
		Use:   "resolve",
		Short: "resolve a conflict with keep_local or accept_remote",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			body := map[string]interface{}{
				"conflict_id": conflictID,
				"resolution":  resolution,
			}
			if err := callLocal("POST", "/v1/local/conflicts/resolve", body, nil); err != nil {
				return
			}
			color.Green("conflict resolved")
		},
	}

	command.Flags().UintVarP(&conflictID, "conflict-id", "i", 0, "conflict id")
	command.Flags().StringVarP(&resolution, "resolution", "r", "", "keep_local or accept_remote")

	return command
}

func mergeCmd() *cobra.Command {
	var primaryID uint
	var mergedID uint

	var required = []string{"primary-id", "merged-id"}

	command := &cobra.Command{
		Use:   "merge",
		Short: "merge a duplicate person into another",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			var res struct {
				LogID             uint `json:"log_id"`
				MomentsMoved      int  `json:"moments_moved"`
				ParticipantsMoved int  `json:"participants_moved"`
				DuplicatesDropped int  `json:"duplicates_dropped"`
			}
			body := map[string]uint{"primary_id": primaryID, "merged_id": mergedID}
			if err := callLocal("POST", "/v1/local/merge", body, &res); err != nil {
				return
			}

			fmt.Printf("moved %d moments and %d participants, dropped %d duplicates\n",
				res.MomentsMoved, res.ParticipantsMoved, res.DuplicatesDropped)
			color.Green("undo with: kinsync unmerge -l %d", res.LogID)
		},
	}

	command.Flags().UintVarP(&primaryID, "primary-id", "p", 0, "surviving person id")
	command.Flags().UintVarP(&mergedID, "merged-id", "m", 0, "person folded in")

	return command
}

func unmergeCmd() *cobra.Command {
	var logID uint

	var required = []string{"log-id"}

	command := &cobra.Command{
		Use:   "unmerge",
		Short: "undo a recorded merge",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			body := map[string]uint{"log_id": logID}
			if err := callLocal("POST", "/v1/local/merge/undo", body, nil); err != nil {
				return
			}
			color.Green("merge undone")
		},
	}

	command.Flags().UintVarP(&logID, "log-id", "l", 0, "merge log id")

	return command
}

func contextCmd() *cobra.Command {
	var server string
	var userID uint

	command := &cobra.Command{
		Use:   "context",
		Short: "set the server address and user the cli acts as",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := readContext()
			if server != "" {
				ctx.Server = server
			}
			if userID != 0 {
				ctx.UserID = userID
			}
			writeContext(ctx)
			fmt.Printf("server: %s, user: %d\n", ctx.Server, ctx.UserID)
		},
	}

	command.Flags().StringVarP(&server, "server", "s", "", "local sync api address")
	command.Flags().UintVarP(&userID, "user", "u", 0, "journal user id")

	return command
}

func checkMissingFlags(cmd *cobra.Command, flags []string) bool {
	var missingFlags []string
	for _, required := range flags {
		if cmd.Flag(required).Changed == false {
			missingFlags = append(missingFlags, required)
		}
	}

	if len(missingFlags) > 0 {
		var msg string
		for _, f := range missingFlags {
			msg += fmt.Sprintf("--%s ", f)
		}
		color.Red("missing: %s", strings.TrimSpace(msg))
		return true
	}

	return false
}
