package client

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	keyringService    = "gaiya"
	keyringAccessKey  = "access_token"
	keyringRefreshKey = "refresh_token"
)

// UserSession 本地持久化的登录态。令牌优先进系统钥匙串，
// 文件里只留非敏感字段；钥匙串不可用时才把令牌落到文件。
type UserSession struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	Tier         string    `json:"tier,omitempty"`
	SavedAt      time.Time `json:"saved_at,omitempty"`
}

// Empty 判断会话是否为空（未登录）
func (s *UserSession) Empty() bool {
	return s == nil || (s.AccessToken == "" && s.RefreshToken == "")
}

// CredentialStore 凭据存储。Load 永不失败（拿不到就返回空会话），
// Save 失败只记日志不影响调用方。
type CredentialStore struct {
	filePath   string
	useKeyring bool
}

// NewCredentialStore 创建凭据存储，启动时探测一次钥匙串可用性。
// filePath 为空时用 ~/.gaiya/auth.json。
func NewCredentialStore(filePath string) *CredentialStore {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		filePath = filepath.Join(home, ".gaiya", "auth.json")
	}

	store := &CredentialStore{filePath: filePath}

	// 写后即删的探测。失败则整个生命周期内走文件兜底
	if err := keyring.Set(keyringService, "probe", "ok"); err == nil {
		_ = keyring.Delete(keyringService, "probe")
		store.useKeyring = true
	} else {
		log.Printf("Keyring unavailable, tokens will be stored in %s: %v", filePath, err)
	}

	return store
}

// Load 读取会话。文件或钥匙串不可用时返回空会话，不报错。
func (s *CredentialStore) Load() *UserSession {
	session := &UserSession{}

	data, err := os.ReadFile(s.filePath)
	if err == nil {
		if err := json.Unmarshal(data, session); err != nil {
			log.Printf("Failed to parse credential file: %v", err)
			return &UserSession{}
		}
	}

	if s.useKeyring {
		if token, err := keyring.Get(keyringService, keyringAccessKey); err == nil {
			session.AccessToken = token
		}
		if token, err := keyring.Get(keyringService, keyringRefreshKey); err == nil {
			session.RefreshToken = token
		}
	}

	return session
}

// Save 持久化会话。文件原子写入（临时文件 + rename），
// 钥匙串可用时文件里不落令牌。
func (s *CredentialStore) Save(session *UserSession) {
	if session == nil {
		return
	}
	session.SavedAt = time.Now()

	fileCopy := *session
	if s.useKeyring {
		if err := keyring.Set(keyringService, keyringAccessKey, session.AccessToken); err != nil {
			log.Printf("Failed to save access token to keyring: %v", err)
		}
		if err := keyring.Set(keyringService, keyringRefreshKey, session.RefreshToken); err != nil {
			log.Printf("Failed to save refresh token to keyring: %v", err)
		}
		fileCopy.AccessToken = ""
		fileCopy.RefreshToken = ""
	}

	if err := s.writeFile(&fileCopy); err != nil {
		log.Printf("Failed to save credential file: %v", err)
	}
}

// Clear 清除所有持久化状态，幂等
func (s *CredentialStore) Clear() {
	if s.useKeyring {
		_ = keyring.Delete(keyringService, keyringAccessKey)
		_ = keyring.Delete(keyringService, keyringRefreshKey)
	}
	if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to remove credential file: %v", err)
	}
}

func (s *CredentialStore) writeFile(session *UserSession) error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}
