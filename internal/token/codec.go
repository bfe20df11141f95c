// Package token はログイントークンのURLセーフな表現とディープリンクを扱う。
package token

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"
)

// deepLinkPrefix はスキャン用ディープリンクの固定スキーム。
const deepLinkPrefix = "tg://login?token="

// Encode はトークンのバイト列を標準base64でエンコードし、
// "+"を"-"、"/"を"_"に置き換え、末尾の"="を取り除く。
func Encode(b []byte) string {
	s := base64.StdEncoding.EncodeToString(b)
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	return strings.TrimRight(s, "=")
}

// Decode はEncodeの逆変換を行う。
func Decode(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode login token: %w", err)
	}
	return b, nil
}

// BuildDeepLink はエンコード済みトークンをディープリンクに包む。
func BuildDeepLink(encoded string) string {
	return deepLinkPrefix + encoded
}

// Prefixed は長さ情報付きのトークン表現。
// Lengthはデータ長と一致していなければならない。
type Prefixed struct {
	Length int
	Data   []byte
}

// UnextractableTokenError はトークン表現からバイト列を取り出せなかったことを表す。
type UnextractableTokenError struct {
	Type   string
	Reason string
}

func (e *UnextractableTokenError) Error() string {
	return fmt.Sprintf("unextractable login token (%s): %s", e.Type, e.Reason)
}

type byteser interface {
	Bytes() []byte
}

// Extract は異なる形式のトークン表現からバイト列を取り出す。
// 判定順は固定: []byte → Bytes()メソッド → Prefixed → 数値配列。
// どれにも該当しない場合や結果が空の場合は*UnextractableTokenErrorを返し、
// 既定値で代用することはない。
func Extract(v any) ([]byte, error) {
	if v == nil {
		return nil, &UnextractableTokenError{Type: "nil", Reason: "token is absent"}
	}

	var out []byte
	switch t := v.(type) {
	case []byte:
		out = t
	case byteser:
		out = t.Bytes()
	case Prefixed:
		b, err := fromPrefixed(t)
		if err != nil {
			return nil, err
		}
		out = b
	case *Prefixed:
		if t == nil {
			return nil, &UnextractableTokenError{Type: "*token.Prefixed", Reason: "nil pointer"}
		}
		b, err := fromPrefixed(*t)
		if err != nil {
			return nil, err
		}
		out = b
	default:
		b, err := fromArray(v)
		if err != nil {
			return nil, err
		}
		out = b
	}

	if len(out) == 0 {
		return nil, &UnextractableTokenError{Type: fmt.Sprintf("%T", v), Reason: "token is empty"}
	}
	return out, nil
}

func fromPrefixed(p Prefixed) ([]byte, error) {
	if p.Length != len(p.Data) {
		return nil, &UnextractableTokenError{
			Type:   "token.Prefixed",
			Reason: fmt.Sprintf("length prefix %d does not match %d data bytes", p.Length, len(p.Data)),
		}
	}
	return p.Data, nil
}

// fromArray は整数要素のスライスまたは配列を0-255の範囲でバイト列に変換する。
func fromArray(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	typeName := rv.Type().String()
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &UnextractableTokenError{Type: typeName, Reason: "unsupported representation"}
	}

	out := make([]byte, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		var n int64
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = elem.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := elem.Uint()
			if u > 255 {
				return nil, &UnextractableTokenError{Type: typeName, Reason: fmt.Sprintf("element %d out of byte range", i)}
			}
			n = int64(u)
		case reflect.Float64, reflect.Float32:
			f := elem.Float()
			if f != float64(int64(f)) {
				return nil, &UnextractableTokenError{Type: typeName, Reason: fmt.Sprintf("element %d is not integral", i)}
			}
			n = int64(f)
		default:
			return nil, &UnextractableTokenError{Type: typeName, Reason: fmt.Sprintf("element %d has kind %s", i, elem.Kind())}
		}
		if n < 0 || n > 255 {
			return nil, &UnextractableTokenError{Type: typeName, Reason: fmt.Sprintf("element %d out of byte range", i)}
		}
		out[i] = byte(n)
	}
	return out, nil
}
