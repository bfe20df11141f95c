package telegram

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/hitoshi/telegate/internal/protocol"
)

// downloadFactory はファイル位置からダウンロード関数を作る。
type downloadFactory func(loc tg.InputFileLocationClass) func(ctx context.Context) ([]byte, error)

// downloadFunc はこのクライアントのAPIでファイルを取得する関数を返す。
func (c *Client) downloadFunc(loc tg.InputFileLocationClass) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		var buf bytes.Buffer
		if _, err := downloader.NewDownloader().Download(c.tg.API(), loc).Stream(ctx, &buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// convertLoginToken はauth.LoginTokenの各バリアントをprotocolの結果に変換する。
func convertLoginToken(res tg.AuthLoginTokenClass) protocol.LoginTokenResult {
	switch v := res.(type) {
	case *tg.AuthLoginToken:
		return protocol.LoginToken{Token: v.Token, Expires: int64(v.Expires)}
	case *tg.AuthLoginTokenMigrateTo:
		return protocol.LoginTokenMigrateTo{DCID: v.DCID, Token: v.Token}
	case *tg.AuthLoginTokenSuccess:
		success := protocol.LoginTokenSuccess{}
		if auth, ok := v.Authorization.(*tg.AuthAuthorization); ok && auth.User != nil {
			success.UserID = strconv.FormatInt(auth.User.GetID(), 10)
		}
		return success
	default:
		return protocol.LoginTokenUnknown{Raw: res}
	}
}

// convertUpdates はgotdの更新コンテナを個別のprotocol.Updateに展開する。
// 対象外の更新は型名だけを持つRawUpdateにする。
func convertUpdates(u tg.UpdatesClass, dl downloadFactory) []protocol.Update {
	switch v := u.(type) {
	case *tg.Updates:
		return convertUpdateList(v.Updates, dl)
	case *tg.UpdatesCombined:
		return convertUpdateList(v.Updates, dl)
	case *tg.UpdateShort:
		return convertUpdateList([]tg.UpdateClass{v.Update}, dl)
	case *tg.UpdateShortMessage:
		sender := strconv.FormatInt(v.UserID, 10)
		return []protocol.Update{protocol.MessageUpdate{Message: protocol.Message{
			ID:       int64(v.ID),
			SenderID: sender,
			ChatID:   sender,
			Text:     v.Message,
			Out:      v.Out,
			Date:     unixTime(v.Date),
		}}}
	case *tg.UpdateShortChatMessage:
		return []protocol.Update{protocol.MessageUpdate{Message: protocol.Message{
			ID:       int64(v.ID),
			SenderID: strconv.FormatInt(v.FromID, 10),
			ChatID:   strconv.FormatInt(v.ChatID, 10),
			Text:     v.Message,
			Out:      v.Out,
			Date:     unixTime(v.Date),
		}}}
	default:
		return nil
	}
}

func convertUpdateList(list []tg.UpdateClass, dl downloadFactory) []protocol.Update {
	out := make([]protocol.Update, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case *tg.UpdateLoginToken:
			out = append(out, protocol.LoginTokenUpdate{})
		case *tg.UpdateNewMessage:
			if msg, ok := convertMessage(v.Message, dl); ok {
				out = append(out, protocol.MessageUpdate{Message: msg})
			}
		case *tg.UpdateNewChannelMessage:
			if msg, ok := convertMessage(v.Message, dl); ok {
				out = append(out, protocol.MessageUpdate{Message: msg})
			}
		default:
			out = append(out, protocol.RawUpdate{TypeName: item.TypeName()})
		}
	}
	return out
}

// convertMessage は通常メッセージだけを変換する。サービスメッセージは無視する。
func convertMessage(m tg.MessageClass, dl downloadFactory) (protocol.Message, bool) {
	msg, ok := m.(*tg.Message)
	if !ok {
		return protocol.Message{}, false
	}

	out := protocol.Message{
		ID:     int64(msg.ID),
		ChatID: peerID(msg.PeerID),
		Text:   msg.Message,
		Out:    msg.Out,
		Date:   unixTime(msg.Date),
	}
	if from, ok := msg.GetFromID(); ok {
		out.SenderID = peerID(from)
	} else {
		// 個人チャットではFromIDが省略され、相手はPeerIDになる。
		out.SenderID = out.ChatID
	}
	if media, ok := msg.GetMedia(); ok {
		out.Media = convertMedia(media, dl)
	}
	return out, true
}

// convertMedia は写真とドキュメントだけをダウンロード可能なメディアにする。
func convertMedia(media tg.MessageMediaClass, dl downloadFactory) *protocol.Media {
	switch v := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := v.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		loc := &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     largestPhotoSize(photo.Sizes),
		}
		return &protocol.Media{MimeType: "image/jpeg", Download: dl(loc)}
	case *tg.MessageMediaDocument:
		doc, ok := v.Document.(*tg.Document)
		if !ok {
			return nil
		}
		loc := &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}
		return &protocol.Media{
			MimeType: doc.MimeType,
			FileName: documentFileName(doc.Attributes),
			Download: dl(loc),
		}
	default:
		return nil
	}
}

// largestPhotoSize は面積が最大のサイズ種別を返す。
func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	best, bestArea := "", -1
	for _, s := range sizes {
		var area int
		var typ string
		switch v := s.(type) {
		case *tg.PhotoSize:
			typ, area = v.Type, v.W*v.H
		case *tg.PhotoSizeProgressive:
			typ, area = v.Type, v.W*v.H
		default:
			continue
		}
		if area > bestArea {
			best, bestArea = typ, area
		}
	}
	if best == "" {
		return "x"
	}
	return best
}

func documentFileName(attrs []tg.DocumentAttributeClass) string {
	for _, a := range attrs {
		if v, ok := a.(*tg.DocumentAttributeFilename); ok {
			return v.FileName
		}
	}
	return ""
}

// peerID はピアの数値IDを文字列で返す。
func peerID(p tg.PeerClass) string {
	switch v := p.(type) {
	case *tg.PeerUser:
		return strconv.FormatInt(v.UserID, 10)
	case *tg.PeerChat:
		return strconv.FormatInt(v.ChatID, 10)
	case *tg.PeerChannel:
		return strconv.FormatInt(v.ChannelID, 10)
	default:
		return ""
	}
}

func unixTime(sec int) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}
