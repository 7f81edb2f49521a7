package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/clipsync/clipsync/internal/common"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

func getSimpleText(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Println(prompt)
	text, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// login exchanges credentials for an access token at the token endpoint
// and persists it for subsequent runs.
func (a *App) login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Email:")
	if err != nil {
		return err
	}
	fmt.Println("Password:")
	password, err := readPassword()
	if err != nil {
		return err
	}

	token, err := requestToken(ctx, a.config.TokenEndpoint, email, string(password))
	if err != nil {
		return err
	}
	if err := a.sess.SetToken(token); err != nil {
		return err
	}
	if err := os.WriteFile(a.tokenPath, []byte(token), 0o600); err != nil {
		return err
	}

	fmt.Println("Signed in.")
	return nil
}

func (a *App) logout(ctx context.Context) error {
	a.sess.Clear()
	if err := os.Remove(a.tokenPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func requestToken(ctx context.Context, endpoint, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("wrong credentials: %w", common.ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	return out.Token, nil
}
