package monadid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidWallet = errors.New("invalid wallet address")
)

// WalletCheck 钱包用户名查询结果
type WalletCheck struct {
	HasUsername bool `json:"hasUsername"`
	User        struct {
		ID            int    `json:"id"`
		Username      string `json:"username"`
		WalletAddress string `json:"walletAddress"`
	} `json:"user"`
}

// Client MonadGames ID 站点客户端
//
// 用于按钱包地址查询玩家注册的用户名
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config 客户端配置
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient 创建 MonadGames ID 客户端
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CheckWallet 查询钱包地址对应的用户名
func (c *Client) CheckWallet(ctx context.Context, wallet string) (*WalletCheck, error) {
	if !isHexAddress(wallet) {
		return nil, ErrInvalidWallet
	}

	endpoint := fmt.Sprintf("%s/api/check-wallet?wallet=%s", c.baseURL, url.QueryEscape(wallet))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("check wallet returned status %d: %s", resp.StatusCode, string(body))
	}

	var result WalletCheck
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Username 查询用户名，未注册时返回空字符串
func (c *Client) Username(ctx context.Context, wallet string) (string, error) {
	check, err := c.CheckWallet(ctx, wallet)
	if err != nil {
		return "", err
	}

	if !check.HasUsername {
		return "", nil
	}
	return check.User.Username, nil
}

// isHexAddress 校验 0x 开头的 40 位十六进制地址
func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
