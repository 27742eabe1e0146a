package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
)

// tokenFile is the authorized-user JSON written by the Google auth
// libraries after the consent flow.
type tokenFile struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	Expiry       string   `json:"expiry"`
}

// TokenSource reads an authorized-user token file. The returned source
// refreshes the access token as needed.
func TokenSource(ctx context.Context, path string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drive token file: %w", err)
	}
	return parseToken(ctx, data)
}

func parseToken(ctx context.Context, data []byte) (oauth2.TokenSource, error) {
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse drive token file: %w", err)
	}
	if tf.RefreshToken == "" || tf.ClientID == "" || tf.ClientSecret == "" {
		return nil, errors.New("drive token file needs client_id, client_secret and refresh_token")
	}

	endpoint := google.Endpoint
	if tf.TokenURI != "" {
		endpoint.TokenURL = tf.TokenURI
	}
	scopes := tf.Scopes
	if len(scopes) == 0 {
		scopes = []string{drive.DriveScope}
	}
	conf := &oauth2.Config{
		ClientID:     tf.ClientID,
		ClientSecret: tf.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}

	tok := &oauth2.Token{RefreshToken: tf.RefreshToken}
	// An access token without a known expiry would never be refreshed.
	if expiry, err := time.Parse(time.RFC3339Nano, tf.Expiry); err == nil && tf.Token != "" {
		tok.AccessToken = tf.Token
		tok.Expiry = expiry
	}
	return conf.TokenSource(ctx, tok), nil
}
