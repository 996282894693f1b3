package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/nidhogg/nuka-missions/internal/gateway"
	"github.com/nidhogg/nuka-missions/internal/memory"
	"github.com/nidhogg/nuka-missions/internal/mission"
	"github.com/spf13/cobra"
)

var (
	createWait   time.Duration
	listStatus   string
	showResult   bool
	inboxFollow  bool
	completeStat string
	completeErr  string
	notesMission string
	notesLimit   int
)

var createCmd = &cobra.Command{
	Use:   "create <mission.json>",
	Short: "Create a mission from a JSON definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read mission file: %w", err)
		}
		var body json.RawMessage
		if err := json.Unmarshal(data, &body); err != nil {
			return fmt.Errorf("parse mission file: %w", err)
		}

		var out struct {
			MissionID string `json:"mission_id"`
		}
		if err := call("POST", "/api/missions", body, &out); err != nil {
			return err
		}
		fmt.Println(out.MissionID)

		if createWait <= 0 {
			return nil
		}
		m, err := waitDone(out.MissionID, createWait)
		if err != nil {
			return err
		}
		fmt.Print(mission.FormatResult(m))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/missions"
		if listStatus != "" {
			path += "?status=" + url.QueryEscape(listStatus)
		}
		var rows []struct {
			ID        string               `json:"id"`
			Label     string               `json:"label"`
			Status    mission.Status       `json:"status"`
			Counts    mission.StatusCounts `json:"counts"`
			Subtasks  int                  `json:"subtasks"`
			CreatedAt time.Time            `json:"created_at"`
		}
		if err := call("GET", path, nil, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No missions.")
			return nil
		}
		for _, r := range rows {
			fmt.Printf("%s  %-10s %d/%d ok  %s  %s\n",
				r.ID, r.Status, r.Counts.OK, r.Subtasks, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Label)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <mission-id>",
	Short: "Show a mission and its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var m mission.Mission
		if err := call("GET", "/api/missions/"+url.PathEscape(args[0]), nil, &m); err != nil {
			return err
		}
		if showResult && m.Status.Done() {
			fmt.Print(mission.FormatResult(&m))
			return nil
		}
		fmt.Printf("Mission %q (%s)\n", m.Label, m.ID)
		fmt.Printf("Status: %s | spawns %d/%d\n", m.Status, m.TotalSpawns, m.MaxTotalSpawns)
		for _, st := range m.Ordered() {
			fmt.Printf("  %s %-12s %-10s", statusIcon(st.Status), st.ID, st.AgentID)
			if st.RetryCount > 0 || st.LoopCount > 0 {
				fmt.Printf(" retries=%d loops=%d", st.RetryCount, st.LoopCount)
			}
			if reason := st.ErrorText(); reason != "" && st.Status != mission.SubtaskOK {
				fmt.Printf(" \033[31m(%s)\033[0m", reason)
			}
			fmt.Println()
		}
		return nil
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox <channel>",
	Short: "Print announcements delivered to an inbox channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		for {
			path := "/api/inbox/" + url.PathEscape(args[0])
			if !since.IsZero() {
				path += "?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
			}
			var msgs []gateway.OutboundMessage
			if err := call("GET", path, nil, &msgs); err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("--- %s\n%s\n", m.SentAt.Local().Format("15:04:05"), m.Content)
				since = m.SentAt
			}
			if !inboxFollow {
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(2 * time.Second):
			}
		}
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <run-id>",
	Short: "Report a run outcome, as an external agent gateway would",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"status": completeStat}
		if completeErr != "" {
			body["error"] = completeErr
		}
		return call("POST", "/api/runs/"+url.PathEscape(args[0])+"/complete", body, nil)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway adapter status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var statuses []gateway.AdapterStatus
		if err := call("GET", "/api/gateway/status", nil, &statuses); err != nil {
			return err
		}
		fmt.Println("Gateway Status:")
		for _, s := range statuses {
			icon := "\033[31m✗\033[0m"
			if s.Connected {
				icon = "\033[32m✓\033[0m"
			}
			fmt.Printf("  %s %s", icon, s.Platform)
			if s.Details != "" {
				fmt.Printf(" (%s)", s.Details)
			}
			if s.Error != "" {
				fmt.Printf(" \033[31m%s\033[0m", s.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

var notesCmd = &cobra.Command{
	Use:   "notes [agent-id]",
	Short: "Print an agent's memory notes, or a mission's with --mission",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		switch {
		case notesMission != "":
			path = "/api/missions/" + url.PathEscape(notesMission) + "/notes"
		case len(args) == 1:
			path = "/api/agents/" + url.PathEscape(args[0]) + "/notes?limit=" + strconv.Itoa(notesLimit)
		default:
			return fmt.Errorf("need an agent id or --mission")
		}
		var notes []memory.Note
		if err := call("GET", path, nil, &notes); err != nil {
			return err
		}
		if len(notes) == 0 {
			fmt.Println("No notes.")
			return nil
		}
		for _, n := range notes {
			fmt.Printf("--- %s %s/%s (%s)\n%s\n",
				n.CreatedAt.Local().Format("2006-01-02 15:04"), n.MissionID, n.SubtaskID, n.AgentID, n.Content)
		}
		return nil
	},
}

func init() {
	createCmd.Flags().DurationVar(&createWait, "wait", 0, "wait up to this long for the mission to finish and print the result")
	listCmd.Flags().StringVar(&listStatus, "status", "", "only missions with this status")
	showCmd.Flags().BoolVar(&showResult, "result", false, "print the final announcement text for finished missions")
	inboxCmd.Flags().BoolVarP(&inboxFollow, "follow", "f", false, "keep polling for new announcements")
	completeCmd.Flags().StringVar(&completeStat, "status", "ok", "run outcome: ok or error")
	completeCmd.Flags().StringVar(&completeErr, "error", "", "failure reason for error outcomes")
	notesCmd.Flags().StringVar(&notesMission, "mission", "", "print every note linked to this mission")
	notesCmd.Flags().IntVar(&notesLimit, "limit", 20, "maximum agent notes to print")
}

func waitDone(id string, timeout time.Duration) (*mission.Mission, error) {
	deadline := time.Now().Add(timeout)
	for {
		var m mission.Mission
		if err := call("GET", "/api/missions/"+url.PathEscape(id), nil, &m); err != nil {
			return nil, err
		}
		if m.Status.Done() {
			return &m, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("mission %s still %s after %s", id, m.Status, timeout)
		}
		time.Sleep(time.Second)
	}
}

func statusIcon(s mission.SubtaskStatus) string {
	switch s {
	case mission.SubtaskOK:
		return "\033[32m✓\033[0m"
	case mission.SubtaskError:
		return "\033[31m✗\033[0m"
	case mission.SubtaskSkipped:
		return "\033[33m-\033[0m"
	case mission.SubtaskRunning:
		return "\033[36m»\033[0m"
	default:
		return " "
	}
}
