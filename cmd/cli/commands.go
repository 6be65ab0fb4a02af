package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

func requireUser() error {
	if user == "" {
		return fmt.Errorf("no user set: pass --user or set RESOUND_USER")
	}
	return nil
}

func apiGet(path string, query url.Values, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("user_id", user)

	resp, err := httpClient.Get(apiURL + path + "?" + query.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func apiPost(path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := httpClient.Post(
		apiURL+path+"?user_id="+url.QueryEscape(user),
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

type scoredTrackView struct {
	Track struct {
		ID      string   `json:"id"`
		Title   string   `json:"title"`
		Artists []string `json:"artists"`
		Genres  []string `json:"genres"`
	} `json:"track"`
	Source struct {
		Type  string `json:"type"`
		Label string `json:"label"`
	} `json:"source"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Fetch the next tracks from the smart queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("count")

		var resp struct {
			Tracks  []scoredTrackView `json:"tracks"`
			Mode    string            `json:"mode"`
			Message string            `json:"message"`
		}
		q := url.Values{}
		q.Set("n", fmt.Sprintf("%d", n))
		if err := apiGet("/api/queue/next", q, &resp); err != nil {
			return err
		}

		if output == "json" {
			printJSON(resp)
			return nil
		}

		if len(resp.Tracks) == 0 {
			fmt.Println(resp.Message)
			return nil
		}
		fmt.Printf("Queue mode: %s\n\n", resp.Mode)
		for i, t := range resp.Tracks {
			artist := ""
			if len(t.Track.Artists) > 0 {
				artist = t.Track.Artists[0]
			}
			fmt.Printf("%2d. %s - %s  [%.1f, %s]\n", i+1, artist, t.Track.Title, t.Score, t.Source.Type)
			if t.Explanation != "" {
				fmt.Printf("    %s\n", t.Explanation)
			}
		}
		return nil
	},
}

var radioCmd = &cobra.Command{
	Use:   "radio",
	Short: "Manage radio sessions",
}

var radioStartCmd = &cobra.Command{
	Use:   "start <seed-id>",
	Short: "Start a radio session from a track, artist or genre seed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		seedType, _ := cmd.Flags().GetString("type")

		var resp struct {
			Mode string `json:"mode"`
		}
		body := map[string]string{"type": seedType, "id": args[0]}
		if err := apiPost("/api/radio/start", body, &resp); err != nil {
			return err
		}
		fmt.Printf("Radio started (%s seed), mode: %s\n", seedType, resp.Mode)
		return nil
	},
}

var radioStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the radio session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		var resp struct {
			Mode string `json:"mode"`
		}
		if err := apiPost("/api/radio/stop", struct{}{}, &resp); err != nil {
			return err
		}
		fmt.Printf("Radio stopped, mode: %s\n", resp.Mode)
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <event-type> <track-id>",
	Short: "Record a listening event (listen, skip, like, dislike, download, playlist-add)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		completed, _ := cmd.Flags().GetBool("completed")

		var resp struct {
			EventID string `json:"event_id"`
		}
		body := map[string]interface{}{
			"user_id":   user,
			"track_id":  args[1],
			"type":      args[0],
			"completed": completed,
		}
		if err := apiPost("/api/events", body, &resp); err != nil {
			return err
		}
		fmt.Printf("Recorded %s event %s\n", args[0], resp.EventID)
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show what the engine has learned about the user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		var resp struct {
			UserID       string   `json:"user_id"`
			Valid        bool     `json:"valid"`
			SampleCount  int      `json:"sample_count"`
			LikedGenres  []string `json:"liked_genres"`
			QueueMode    string   `json:"queue_mode"`
			IndexedItems int      `json:"indexed_items"`
		}
		if err := apiGet("/api/profile", nil, &resp); err != nil {
			return err
		}

		if output == "json" {
			printJSON(resp)
			return nil
		}
		fmt.Printf("User:          %s\n", resp.UserID)
		fmt.Printf("Profile valid: %v (%d interactions)\n", resp.Valid, resp.SampleCount)
		fmt.Printf("Queue mode:    %s\n", resp.QueueMode)
		fmt.Printf("Liked genres:  %v\n", resp.LikedGenres)
		fmt.Printf("Indexed:       %d tracks\n", resp.IndexedItems)
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show where queued tracks came from",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		var resp struct {
			Sources map[string]struct {
				Type  string  `json:"type"`
				Label string  `json:"label"`
				Score float64 `json:"score"`
			} `json:"sources"`
		}
		if err := apiGet("/api/queue/sources", nil, &resp); err != nil {
			return err
		}

		if output == "json" {
			printJSON(resp)
			return nil
		}
		for id, src := range resp.Sources {
			fmt.Printf("%s  %-10s %.1f  %s\n", id, src.Type, src.Score, src.Label)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server health and library size",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Status  string `json:"status"`
			Tracks  int64  `json:"tracks"`
			Indexed int    `json:"indexed"`
		}
		if err := apiGet("/health", nil, &resp); err != nil {
			return err
		}

		if output == "json" {
			printJSON(resp)
			return nil
		}
		fmt.Printf("Status:  %s\n", resp.Status)
		fmt.Printf("Tracks:  %d\n", resp.Tracks)
		fmt.Printf("Indexed: %d\n", resp.Indexed)
		return nil
	},
}

func init() {
	nextCmd.Flags().Int("count", 5, "Number of tracks to fetch")
	radioStartCmd.Flags().String("type", "track", "Seed type: track, artist or genre")
	recordCmd.Flags().Bool("completed", false, "Mark a listen event as completed")
	radioCmd.AddCommand(radioStartCmd)
	radioCmd.AddCommand(radioStopCmd)
}
