package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/corebase/transfer-engine/internal/models"
)

// ProviderFirebase is the Firebase source provider tag.
const ProviderFirebase = "firebase"

const (
	identityToolkitScope = "https://www.googleapis.com/auth/identitytoolkit"
	identityToolkitBase  = "https://identitytoolkit.googleapis.com/v1"
	firebaseUserPageSize = 500
)

type firebaseSource struct {
	errorSink
	projectID   string
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
	baseURL     string
}

func newFirebaseSource(creds Credentials) (Source, error) {
	serviceAccount, err := creds.require("serviceAccount")
	if err != nil {
		return nil, err
	}

	var account struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal([]byte(serviceAccount), &account); err != nil {
		return nil, fmt.Errorf("%w: serviceAccount is not valid JSON: %v", ErrInvalidCredentials, err)
	}
	if account.ProjectID == "" {
		return nil, fmt.Errorf("%w: serviceAccount has no project_id", ErrInvalidCredentials)
	}

	cfg, err := google.JWTConfigFromJSON([]byte(serviceAccount), identityToolkitScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	ts := cfg.TokenSource(context.Background())
	return &firebaseSource{
		projectID:   account.ProjectID,
		tokenSource: ts,
		httpClient:  oauth2.NewClient(context.Background(), ts),
		baseURL:     identityToolkitBase,
	}, nil
}

func (s *firebaseSource) Name() string { return ProviderFirebase }

func (s *firebaseSource) Resources() []models.ResourceType {
	return []models.ResourceType{models.ResourceUsers}
}

func (s *firebaseSource) Report(ctx context.Context) error {
	if _, err := s.tokenSource.Token(); err != nil {
		return fmt.Errorf("%w: minting service account token: %v", ErrConnectivity, err)
	}
	if _, _, err := s.fetchUserPage(ctx, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return nil
}

func (s *firebaseSource) Fetch(ctx context.Context, rt models.ResourceType, scopeID string) (*FetchResult, error) {
	if rt != models.ResourceUsers {
		return &FetchResult{}, nil
	}

	result := &FetchResult{}
	pageToken := ""
	for {
		users, next, err := s.fetchUserPage(ctx, pageToken)
		if err != nil {
			fail := &models.TransferError{
				ResourceName: string(rt),
				Message:      err.Error(),
			}
			s.record(fail)
			result.Failed = append(result.Failed, fail)
			return result, nil
		}
		for _, u := range users {
			id, _ := u["localId"].(string)
			if scopeID != "" && id != scopeID {
				continue
			}
			name, _ := u["email"].(string)
			if name == "" {
				name = id
			}
			result.Resources = append(result.Resources, models.Resource{
				Type: rt,
				ID:   id,
				Name: name,
				Data: u,
			})
		}
		if next == "" {
			return result, nil
		}
		pageToken = next
	}
}

func (s *firebaseSource) fetchUserPage(ctx context.Context, pageToken string) ([]map[string]any, string, error) {
	params := url.Values{"maxResults": {fmt.Sprint(firebaseUserPageSize)}}
	if pageToken != "" {
		params.Set("nextPageToken", pageToken)
	}
	u := fmt.Sprintf("%s/projects/%s/accounts:batchGet?%s", s.baseURL, s.projectID, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("accounts:batchGet: HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var page struct {
		Users         []map[string]any `json:"users"`
		NextPageToken string           `json:"nextPageToken"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("parsing accounts:batchGet response: %w", err)
	}
	return page.Users, page.NextPageToken, nil
}

func (s *firebaseSource) ShutDown(ctx context.Context) error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// SignalFatal has nothing to clean up: reads against Firebase leave no state.
func (s *firebaseSource) SignalFatal(ctx context.Context) {}
