// Package host предоставляет клиент для REST API хост-системы (WordPress с плагинами myCRED и WooCommerce).
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/mycred-memberships/internal/model"
)

// ErrMissingDependencies возвращается, если в хост-системе не активен обязательный плагин.
var ErrMissingDependencies = errors.New("required host plugins are not active")

// RequiredPlugin описывает плагин, без которого сервис не запускается.
type RequiredPlugin struct {
	Slug  string
	Title string
}

// RequiredPlugins перечисляет плагины, которые должны быть активны в хост-системе.
var RequiredPlugins = []RequiredPlugin{
	{Slug: "mycred", Title: "myCRED"},
	{Slug: "woocommerce", Title: "WooCommerce"},
	{Slug: "woocommerce-memberships", Title: "WooCommerce Memberships"},
}

// Client инкапсулирует HTTP-взаимодействие с хост-системой.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Plugin описывает плагин хост-системы.
type Plugin struct {
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// NewClient создаёт HTTP-клиент для обращения к хост-системе по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) url(path string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("host client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path, nil
}

// get выполняет GET-запрос и декодирует JSON-ответ в out.
// При ответе 429 возвращает код и значение Retry-After без ошибки.
func (c *Client) get(ctx context.Context, path string, out any) (int, time.Duration, error) {
	url, err := c.url(path)
	if err != nil {
		return 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return resp.StatusCode, 0, nil
}

// GetPlugins возвращает список плагинов хост-системы.
func (c *Client) GetPlugins(ctx context.Context) ([]Plugin, error) {
	var plugins []Plugin
	code, _, err := c.get(ctx, "/api/plugins", &plugins)
	if err != nil {
		return nil, err
	}
	if code == http.StatusTooManyRequests {
		return nil, fmt.Errorf("unexpected status: %d", code)
	}
	return plugins, nil
}

// CheckDependencies проверяет, что все обязательные плагины активны.
func (c *Client) CheckDependencies(ctx context.Context) error {
	plugins, err := c.GetPlugins(ctx)
	if err != nil {
		return fmt.Errorf("get plugins: %w", err)
	}
	return MissingDependencies(plugins)
}

// MissingDependencies возвращает ErrMissingDependencies с перечнем отсутствующих плагинов.
func MissingDependencies(plugins []Plugin) error {
	active := make(map[string]bool, len(plugins))
	for _, p := range plugins {
		if p.Active {
			active[p.Slug] = true
		}
	}

	var missing []string
	for _, rp := range RequiredPlugins {
		if !active[rp.Slug] {
			missing = append(missing, rp.Title)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingDependencies, strings.Join(missing, ", "))
	}
	return nil
}

// GetMembershipPlans запрашивает список планов членства.
// Возвращает код ответа и время ожидания, если хост-система ограничила частоту запросов.
func (c *Client) GetMembershipPlans(ctx context.Context) ([]model.MembershipPlan, int, time.Duration, error) {
	var plans []model.MembershipPlan
	code, retryAfter, err := c.get(ctx, "/api/membership-plans", &plans)
	if err != nil {
		return nil, code, 0, err
	}
	if code == http.StatusTooManyRequests {
		return nil, code, retryAfter, nil
	}
	return plans, code, 0, nil
}
