package zpay

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// 回调必须携带的字段，缺一即验签失败
var requiredNotifyFields = []string{"pid", "out_trade_no", "money", "trade_status"}

// Sign 计算易支付风格的 MD5 签名。
// 规则：剔除空值与 sign/sign_type 字段，按键的字节序升序拼接 k=v，
// 以 & 连接后拼上商户密钥，取 MD5 小写十六进制。
// 注意只剔除空字符串，"0" 这类值要参与签名。
func Sign(params map[string]string, key string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == "sign" || k == "sign_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	sum := md5.Sum([]byte(strings.Join(pairs, "&") + key))
	return hex.EncodeToString(sum[:])
}

// Verify 校验网关回调签名。必填字段缺失直接判失败（fail closed），
// 签名比较使用常数时间以避免时序侧信道。
func Verify(params map[string]string, key string) bool {
	got, ok := params["sign"]
	if !ok || got == "" {
		return false
	}
	for _, field := range requiredNotifyFields {
		if params[field] == "" {
			return false
		}
	}

	want := Sign(params, key)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) == 1
}
