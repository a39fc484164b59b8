package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/partflow/partflow/client"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set up connection settings interactively",
	Long: `Set up connection settings interactively.

You will be prompted for:
  - Server URL
  - Access key
  - Secret key

The server is probed before saving. Settings are stored in
~/.partflow/config.yaml with owner-only permissions.`,
	RunE: runConfigure,
}

func runConfigure(_ *cobra.Command, _ []string) error {
	serverPrompt := promptui.Prompt{
		Label:   "Server URL",
		Default: "http://localhost:5808",
		Validate: func(s string) error {
			u, err := url.Parse(strings.TrimSpace(s))
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("enter a full URL like http://host:5808")
			}
			return nil
		},
	}
	serverURL, err := serverPrompt.Run()
	if err != nil {
		return err
	}
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")

	accessPrompt := promptui.Prompt{Label: "Access key (empty for public servers)"}
	access, err := accessPrompt.Run()
	if err != nil {
		return err
	}

	var secret string
	if access != "" {
		secretPrompt := promptui.Prompt{Label: "Secret key", Mask: '*'}
		secret, err = secretPrompt.Run()
		if err != nil {
			return err
		}
	}

	if err := probeServer(serverURL); err != nil {
		confirm := promptui.Prompt{
			Label:     fmt.Sprintf("Server probe failed (%v), save anyway", err),
			IsConfirm: true,
		}
		if _, err := confirm.Run(); err != nil {
			return fmt.Errorf("aborted")
		}
	}

	cfg := &client.Config{
		Server:    serverURL,
		AccessKey: access,
		SecretKey: secret,
	}

	path := cfgFile
	if path == "" {
		path = client.DefaultConfigPath()
	}

	if err := client.SaveConfigFile(path, cfg); err != nil {
		return err
	}

	fmt.Printf("Saved %s\n", path)
	return nil
}

func probeServer(serverURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
