package chargepoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dacarson/solarcharge/pkg/retry"
	"github.com/sirupsen/logrus"
)

var httpClient = &http.Client{
	Timeout: time.Second * 30,
}

type Config struct {
	BaseURL  string
	Username string
	Password string

	// SessionToken, when set, is tried before a password login.
	SessionToken string
	// OnToken is called whenever a fresh session token is issued, so the
	// caller can persist it.
	OnToken func(token string)
}

// Client talks to the ChargePoint cloud on behalf of one account. It is not
// safe for concurrent use; the control loop is single threaded.
type Client struct {
	cfg    Config
	client *http.Client
	token  string
	userID int64

	setAmperageChecks  int
	setAmperageDelay   time.Duration
	startSessionChecks int
	startSessionDelay  time.Duration
}

func New(cfg Config) *Client {
	return &Client{
		cfg:                cfg,
		client:             httpClient,
		token:              cfg.SessionToken,
		setAmperageChecks:  5,
		setAmperageDelay:   time.Second,
		startSessionChecks: 30,
		startSessionDelay:  time.Second,
	}
}

// Login establishes a usable session. A cached token is validated first and
// silently replaced by a password login when the cloud rejects it.
func (c *Client) Login() error {
	if c.token != "" {
		_, err := c.GetAccount()
		if err == nil {
			logrus.Info("chargepoint: reusing cached session token")
			return nil
		}
		logrus.Warnf("chargepoint: cached session token rejected, logging in again: %v", err)
		c.token = ""
	}
	return c.login()
}

func (c *Client) login() error {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return fmt.Errorf("chargepoint username and password are required")
	}
	request := map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	}
	response := struct {
		User struct {
			UserID int64 `json:"userId"`
		} `json:"user"`
		SessionID string `json:"sessionId"`
	}{}
	err := c.do("login", http.MethodPost, "/v2/driver/profile/account/login", request, &response)
	if err != nil {
		return err
	}
	if response.SessionID == "" {
		return &CommunicationError{Op: "login", Err: fmt.Errorf("no session token in response")}
	}
	c.token = response.SessionID
	c.userID = response.User.UserID
	logrus.Infof("chargepoint: logged in as user %d", c.userID)
	if c.cfg.OnToken != nil {
		c.cfg.OnToken(c.token)
	}
	return nil
}

// GetAccount validates the current session and returns the account user id.
func (c *Client) GetAccount() (int64, error) {
	response := struct {
		User struct {
			UserID int64 `json:"userId"`
		} `json:"user"`
	}{}
	err := c.do("get account", http.MethodGet, "/v1/driver/profile/user", nil, &response)
	if err != nil {
		return 0, err
	}
	c.userID = response.User.UserID
	return c.userID, nil
}

func (c *Client) GetHomeChargers() ([]int, error) {
	request := map[string]interface{}{
		"user_id":    c.userID,
		"get_pandas": map[string]interface{}{"mfhs": struct{}{}},
	}
	response := struct {
		GetPandas struct {
			DeviceIDs []int `json:"device_ids"`
		} `json:"get_pandas"`
	}{}
	err := c.post("list home chargers", "/mobileapi/v5", request, &response)
	if err != nil {
		return nil, err
	}
	return response.GetPandas.DeviceIDs, nil
}

func (c *Client) GetHomeChargerStatus(chargerID int) (*HomeChargerStatus, error) {
	request := map[string]interface{}{
		"user_id": c.userID,
		"get_panda_status": map[string]interface{}{
			"device_id": chargerID,
			"mfhs":      struct{}{},
		},
	}
	response := struct {
		GetPandaStatus pandaStatus `json:"get_panda_status"`
	}{}
	err := c.post("get charger status", "/mobileapi/v5", request, &response)
	if err != nil {
		return nil, err
	}
	return response.GetPandaStatus.validate(chargerID)
}

// GetUserChargingStatus returns nil when no charging session is in progress.
func (c *Client) GetUserChargingStatus() (*UserChargingStatus, error) {
	request := map[string]interface{}{
		"user_status": map[string]interface{}{"mfhs": struct{}{}},
	}
	response := struct {
		UserStatus *UserChargingStatus `json:"user_status"`
	}{}
	err := c.post("get user charging status", "/mapcache/v2", request, &response)
	if err != nil {
		return nil, err
	}
	return response.UserStatus, nil
}

// SetAmperageLimit commands a new charge amperage limit. The cloud applies
// the limit eventually, so the call polls charger status until the new value
// is reflected and reports a CommunicationError when it never is.
func (c *Client) SetAmperageLimit(chargerID, amps int) error {
	request := map[string]interface{}{"chargeAmperageLimit": amps}
	response := struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}{}
	path := fmt.Sprintf("/driver/charger/%d/config/v1/charge-amperage-limit", chargerID)
	err := c.post("set amperage limit", path, request, &response)
	if err != nil {
		return err
	}
	// The API can return 200 but still report a failure.
	if response.Status != "success" {
		return &CommunicationError{
			Op:  "set amperage limit",
			Err: fmt.Errorf("status %q: %s", response.Status, response.Message),
		}
	}

	err = retry.Do(c.setAmperageChecks, c.setAmperageDelay, func() error {
		status, err := c.GetHomeChargerStatus(chargerID)
		if err != nil {
			return err
		}
		if status.AmperageLimit != amps {
			return fmt.Errorf("charger still reports %dA", status.AmperageLimit)
		}
		return nil
	})
	if err != nil {
		return &CommunicationError{
			Op:  "set amperage limit",
			Err: fmt.Errorf("limit of %dA did not persist to charger: %w", amps, err),
		}
	}
	return nil
}

// post wraps do with a single relogin retry on an expired session.
func (c *Client) post(op, path string, body, out interface{}) error {
	err := c.do(op, http.MethodPost, path, body, out)
	var commErr *CommunicationError
	if errors.As(err, &commErr) && commErr.StatusCode == http.StatusUnauthorized && c.cfg.Password != "" {
		logrus.Warn("chargepoint: session token expired, logging in again")
		if loginErr := c.login(); loginErr != nil {
			return err
		}
		return c.do(op, http.MethodPost, path, body, out)
	}
	return err
}

func (c *Client) do(op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &CommunicationError{Op: op, Err: err}
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return &CommunicationError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("cp-session-type", "CP_SESSION_TOKEN")
		req.Header.Set("cp-session-token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &CommunicationError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &CommunicationError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(b))),
		}
	}
	if out == nil {
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return &CommunicationError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
