package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/orderpush/internal/appconfig"
	"pkt.systems/orderpush/schema"
	"pkt.systems/pslog"
)

func newPublishCmd() *cobra.Command {
	var cfgPath string
	var target string
	var change schema.OrderStatusChange
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an order status change through the publish endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				cfg, err := appconfig.Load(cfgPath)
				if err != nil {
					return err
				}
				derived, err := publishURL(cfg.Client.URL)
				if err != nil {
					return err
				}
				target = derived
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := postStatusChange(ctx, http.DefaultClient, target, change); err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("order status published", "order", change.OrderID, "user", change.UserID, "status", change.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&target, "url", "", "publish endpoint (derived from client.url when empty)")
	cmd.Flags().StringVar(&change.OrderID, "order", "", "order id")
	cmd.Flags().StringVar(&change.UserID, "user", "", "owning user id")
	cmd.Flags().StringVar(&change.Status, "status", "", "new order status")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

// publishURL maps a stream url ending in /events onto the sibling /publish.
func publishURL(streamURL string) (string, error) {
	parsed, err := url.Parse(streamURL)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(parsed.Path, "/events") {
		return "", fmt.Errorf("cannot derive publish url from %q; pass --url", streamURL)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/events") + "/publish"
	parsed.RawQuery = ""
	return parsed.String(), nil
}

func postStatusChange(ctx context.Context, httpClient *http.Client, target string, change schema.OrderStatusChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("publish failed: %s: %s", resp.Status, payload.Error)
	}
	return fmt.Errorf("publish failed: %s", resp.Status)
}
