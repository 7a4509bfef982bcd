package relay

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"io"
)

// ChatMessage 扇出时的完整消息，资料字段只在投递时从 UserRegistry 填充，从不落库。
type ChatMessage struct {
	UserID      uint   `json:"userId"`
	RoomID      uint   `json:"roomId,omitempty"`
	Msg         string `json:"msg"`
	Ts          int64  `json:"ts"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"imageUrl,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// 帧尾的元数据字节：0 原始 JSON，1 zlib 压缩。
const (
	metaRaw        byte = 0
	metaCompressed byte = 1
)

var errEmptyFrame = errors.New("relay: empty frame")

// EncodeFrame 序列化消息并按需压缩，返回 [payload][1 字节元数据] 格式的帧。
func EncodeFrame(msg ChatMessage, compress bool) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if !compress {
		return append(payload, metaRaw), nil
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return append(buf.Bytes(), metaCompressed), nil
}

// DecodeFrame 解析一帧，返回消息和是否压缩。
func DecodeFrame(frame []byte) (ChatMessage, bool, error) {
	var msg ChatMessage
	if len(frame) == 0 {
		return msg, false, errEmptyFrame
	}
	compressed := frame[len(frame)-1] == metaCompressed
	payload := frame[:len(frame)-1]
	if compressed {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return msg, true, err
		}
		defer zr.Close()
		if payload, err = io.ReadAll(zr); err != nil {
			return msg, true, err
		}
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, compressed, err
	}
	return msg, compressed, nil
}
