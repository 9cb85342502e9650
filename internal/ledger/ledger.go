package ledger

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/keylol/steambot/pkg/logger"
)

// Ledger 按账号保存设备授权产物（sentry file hash）。
// 每个账号一个 <id>.sfh 文件，原始字节，无封装；写入走临时文件 + rename。
// 同一账号只有所属会话会写入，单 key 单写者，无需额外加锁。
type Ledger struct {
	dir string
}

var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// New 创建 Ledger，确保数据目录存在
func New(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Ledger{dir: dir}, nil
}

func (l *Ledger) path(accountID string) string {
	safe := idSanitizer.ReplaceAllString(accountID, "_")
	return filepath.Join(l.dir, safe+".sfh")
}

// Get 读取账号的授权产物；不存在时返回 (nil, false, nil)
func (l *Ledger) Get(accountID string) ([]byte, bool, error) {
	b, err := os.ReadFile(l.path(accountID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Put 持久化账号的授权产物
func (l *Ledger) Put(accountID string, blob []byte) error {
	path := l.path(accountID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	logger.Debugf("[ledger] 已写入授权产物: %s", path)
	return nil
}
