package protocol

import "strings"

// IsLoginTokenUpdate は更新がログイントークン関連かを判定する。
// 明示的なLoginTokenUpdateを優先し、RawUpdateのみ構造的なヒューリスティックで判定する:
// 型タグに"logintoken"を含む、loginToken系のフィールドを持つ、
// またはバッチ内に該当する更新を含む。
func IsLoginTokenUpdate(u Update) bool {
	switch v := u.(type) {
	case LoginTokenUpdate, *LoginTokenUpdate:
		return true
	case RawUpdate:
		return rawLooksLikeLoginToken(v)
	case *RawUpdate:
		return v != nil && rawLooksLikeLoginToken(*v)
	default:
		return false
	}
}

func rawLooksLikeLoginToken(r RawUpdate) bool {
	if strings.Contains(strings.ToLower(r.TypeName), "logintoken") {
		return true
	}
	for _, key := range []string{"loginToken", "login_token"} {
		if v, ok := r.Fields[key]; ok && v != nil {
			return true
		}
	}
	for _, item := range r.Items {
		if IsLoginTokenUpdate(item) {
			return true
		}
	}
	return false
}
