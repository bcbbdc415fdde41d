package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultAPIURL 生产环境后端地址，可被 GAIYA_API_URL 环境变量覆盖
const DefaultAPIURL = "https://jindutiao.vercel.app"

const maxBackoffExp = 3 // 退避上限 2^3 = 8s

// 默认超时。后端冷启动可能较慢，一般请求放宽到 15s；
// 刷新和下单、查单走更紧的 10s，失败后由上层重试兜底。
const (
	defaultRequestTimeout = 15 * time.Second
	defaultShortTimeout   = 10 * time.Second
)

// Option 调整 AuthClient 的可选参数
type Option func(*AuthClient)

// WithRequestTimeout 覆盖一般请求的整体超时
func WithRequestTimeout(d time.Duration) Option {
	return func(a *AuthClient) { a.requestTimeout = d }
}

// WithShortTimeout 覆盖刷新与下单、查单这类短请求的超时
func WithShortTimeout(d time.Duration) Option {
	return func(a *AuthClient) { a.shortTimeout = d }
}

// AuthClient 管理令牌生命周期，对外提供认证请求入口。
// 并发刷新用 singleflight 合并：同一时刻只有一个刷新请求打到后端，
// 其余调用方等待同一个结果。
type AuthClient struct {
	baseURL  string
	store    *CredentialStore
	httpc    *http.Client
	fallback *http.Client // TLS 握手失败时的降级客户端

	requestTimeout time.Duration
	shortTimeout   time.Duration

	refreshGroup singleflight.Group

	mu             sync.Mutex
	session        *UserSession
	transientFails int // 连续刷新瞬时失败次数，决定下次退避

	sleep func(time.Duration) // 测试时替换
}

// NewAuthClient 创建认证客户端。baseURL 为空时读 GAIYA_API_URL，再退到生产地址。
func NewAuthClient(baseURL string, store *CredentialStore, opts ...Option) *AuthClient {
	if baseURL == "" {
		baseURL = os.Getenv("GAIYA_API_URL")
	}
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}

	a := &AuthClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		store:          store,
		requestTimeout: defaultRequestTimeout,
		shortTimeout:   defaultShortTimeout,
		session:        store.Load(),
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.httpc = &http.Client{Timeout: a.requestTimeout}
	// 个别环境的中间设备对 TLS 1.3 处理有问题，降级客户端固定 1.2
	a.fallback = &http.Client{
		Timeout: a.requestTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
				MaxVersion: tls.VersionTLS12,
			},
		},
	}
	return a
}

// shortCtx 给刷新与下单、查单这类短请求套上更紧的超时
func (a *AuthClient) shortCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.shortTimeout)
}

// Session 返回当前会话的副本
func (a *AuthClient) Session() UserSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return UserSession{}
	}
	return *a.session
}

// Signup 注册并持久化令牌
func (a *AuthClient) Signup(ctx context.Context, email, password, username string) (*UserSession, error) {
	return a.authCall(ctx, "/api/auth-signup", map[string]string{
		"email":    email,
		"password": password,
		"username": username,
	})
}

// Signin 登录并持久化令牌
func (a *AuthClient) Signin(ctx context.Context, email, password string) (*UserSession, error) {
	return a.authCall(ctx, "/api/auth-signin", map[string]string{
		"email":    email,
		"password": password,
	})
}

func (a *AuthClient) authCall(ctx context.Context, path string, body map[string]string) (*UserSession, error) {
	status, data, err := a.doJSON(ctx, http.MethodPost, path, body, "")
	if err != nil {
		return nil, networkError(err)
	}

	var resp authResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, bugError("响应格式异常: " + err.Error())
	}
	if !resp.Success || status >= 400 {
		return nil, authDenied(resp.ErrorMsg)
	}

	tier := resp.UserTier
	if tier == "" {
		tier = "free"
	}
	session := &UserSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.UserID,
		Email:        resp.Email,
		Tier:         tier,
	}

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	a.store.Save(session)

	result := *session
	return &result, nil
}

// Signout 尝试服务端登出，不论结果如何都清除本地凭据
func (a *AuthClient) Signout(ctx context.Context) {
	a.mu.Lock()
	token := ""
	if a.session != nil {
		token = a.session.AccessToken
	}
	a.mu.Unlock()

	if token != "" {
		if _, _, err := a.doJSON(ctx, http.MethodPost, "/api/auth-signout", nil, token); err != nil {
			log.Printf("Server signout failed, clearing local credentials anyway: %v", err)
		}
	}

	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
	a.store.Clear()
}

// RefreshAccessToken 用刷新令牌换取新令牌对。并发调用合并为一次后端请求。
// 刷新端点返回 401 是终态：清除凭据并返回 ErrSessionExpired。
func (a *AuthClient) RefreshAccessToken(ctx context.Context) error {
	_, err, _ := a.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, a.doRefresh(ctx)
	})
	return err
}

func (a *AuthClient) doRefresh(ctx context.Context) error {
	a.mu.Lock()
	refreshToken := ""
	if a.session != nil {
		refreshToken = a.session.RefreshToken
	}
	fails := a.transientFails
	a.mu.Unlock()

	if refreshToken == "" {
		return ErrSessionExpired
	}

	// 瞬时失败退避：2^n 秒，n 封顶 3；连续三次失败后计数清零，
	// 下一次调用立即放行
	if fails >= maxBackoffExp {
		a.mu.Lock()
		a.transientFails = 0
		a.mu.Unlock()
	} else if fails > 0 {
		a.sleep(time.Duration(1<<uint(fails)) * time.Second)
	}

	refreshCtx, cancel := a.shortCtx(ctx)
	defer cancel()
	status, data, err := a.doJSON(refreshCtx, http.MethodPost, "/api/auth-refresh", map[string]string{
		"refresh_token": refreshToken,
	}, "")
	if err != nil {
		a.mu.Lock()
		a.transientFails++
		a.mu.Unlock()
		return networkError(err)
	}

	if status == http.StatusUnauthorized {
		a.mu.Lock()
		a.session = nil
		a.transientFails = 0
		a.mu.Unlock()
		a.store.Clear()
		return ErrSessionExpired
	}

	if status >= 500 {
		a.mu.Lock()
		a.transientFails++
		a.mu.Unlock()
		return &Error{Kind: KindNetwork, Message: "后端暂时不可用"}
	}

	var resp authResponse
	if err := json.Unmarshal(data, &resp); err != nil || !resp.Success {
		return bugError("刷新响应格式异常")
	}

	a.mu.Lock()
	if a.session == nil {
		a.session = &UserSession{}
	}
	a.session.AccessToken = resp.AccessToken
	a.session.RefreshToken = resp.RefreshToken
	session := *a.session
	a.transientFails = 0
	a.mu.Unlock()
	a.store.Save(&session)

	return nil
}

// AuthenticatedRequest 携带 Bearer 令牌请求后端。
// 收到 401 时刷新并重试，每次逻辑调用最多一次。
func (a *AuthClient) AuthenticatedRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	a.mu.Lock()
	token := ""
	if a.session != nil {
		token = a.session.AccessToken
	}
	a.mu.Unlock()

	if token == "" {
		return nil, ErrSessionExpired
	}

	status, data, err := a.doJSON(ctx, method, path, body, token)
	if err != nil {
		return nil, networkError(err)
	}

	if status == http.StatusTooManyRequests {
		return nil, ErrQuotaExhausted
	}
	if status != http.StatusUnauthorized {
		return data, nil
	}

	// 刷新一次再重试。输掉并发竞争的调用方也会走到这里，
	// 共享同一个刷新结果
	if err := a.RefreshAccessToken(ctx); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}

	a.mu.Lock()
	token = ""
	if a.session != nil {
		token = a.session.AccessToken
	}
	a.mu.Unlock()

	status, data, err = a.doJSON(ctx, method, path, body, token)
	if err != nil {
		return nil, networkError(err)
	}
	if status == http.StatusTooManyRequests {
		return nil, ErrQuotaExhausted
	}
	if status == http.StatusUnauthorized {
		// 新令牌仍被拒绝，当作会话失效处理
		a.mu.Lock()
		a.session = nil
		a.mu.Unlock()
		a.store.Clear()
		return nil, ErrSessionExpired
	}

	return data, nil
}

// GetSubscriptionStatus 查询订阅状态，成功后更新本地缓存的等级
func (a *AuthClient) GetSubscriptionStatus(ctx context.Context) (*SubscriptionStatus, error) {
	data, err := a.AuthenticatedRequest(ctx, http.MethodGet, "/api/subscription-status", nil)
	if err != nil {
		return nil, err
	}

	var resp SubscriptionStatus
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, bugError("订阅状态响应格式异常")
	}
	if !resp.Success {
		return nil, bugError("订阅状态查询失败: " + resp.ErrorMsg)
	}

	a.mu.Lock()
	var session *UserSession
	if a.session != nil && a.session.Tier != resp.UserTier {
		a.session.Tier = resp.UserTier
		s := *a.session
		session = &s
	}
	a.mu.Unlock()
	if session != nil {
		a.store.Save(session)
	}

	return &resp, nil
}

// doJSON 发送 JSON 请求。TLS 层错误时用降级客户端重试一次。
// 返回状态码和响应体，4xx/5xx 不视为 error，由调用方按状态码分流。
func (a *AuthClient) doJSON(ctx context.Context, method, path string, body interface{}, token string) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.httpc.Do(req)
	if err != nil && isTLSError(err) {
		log.Printf("TLS handshake failed, retrying with fallback client: %v", err)
		var req2 *http.Request
		if reqBody != nil {
			data, _ := json.Marshal(body)
			req2, _ = http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(data))
		} else {
			req2, _ = http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
		}
		req2.Header = req.Header.Clone()
		resp, err = a.fallback.Do(req2)
	}
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	return resp.StatusCode, data, nil
}

func isTLSError(err error) bool {
	if err == nil {
		return false
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}
