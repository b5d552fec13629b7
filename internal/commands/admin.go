package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"switchboard/internal/api"
	"switchboard/internal/config"
	"switchboard/internal/models"
)

// postAdmin sends body to the admin API and decodes the response envelope.
func postAdmin(cfg *config.Config, path string, body any) (models.APIResponse, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return models.APIResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.AdminAddr, path)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return models.APIResponse{}, fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return models.APIResponse{}, fmt.Errorf("admin API call failed (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.APIResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

func AddUser(id, name, image string, cfg *config.Config) error {
	result, err := postAdmin(cfg, "/admin/users", api.ProfileRequest{ID: id, Name: name, Image: image})
	if err != nil {
		return err
	}
	fmt.Println(result.Message)
	return nil
}

func AddCompany(id, name, image string, cfg *config.Config) error {
	result, err := postAdmin(cfg, "/admin/companies", api.ProfileRequest{ID: id, Name: name, Image: image})
	if err != nil {
		return err
	}
	fmt.Println(result.Message)
	return nil
}

// IssueToken prints a bearer token for id. Company accounts use role ADMIN.
func IssueToken(id string, role models.Role, cfg *config.Config) error {
	result, err := postAdmin(cfg, "/admin/tokens", models.TokenRequest{ID: id, Role: role})
	if err != nil {
		return err
	}

	raw, err := json.Marshal(result.Data)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	var token models.TokenResponse
	if err := json.Unmarshal(raw, &token); err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	fmt.Printf("Token:      %s\n", token.Token)
	fmt.Printf("Expires at: %s\n", token.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
