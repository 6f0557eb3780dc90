package errs

import (
	"strconv"
	"strings"
)

// 业务错误码（HTTP 层统一返回）
var (
	ErrArgs          = NewCodeError(1001, "invalid argument")
	ErrTokenExpired  = NewCodeError(1101, "token expired or invalid")
	ErrNotInChat     = NewCodeError(1201, "user is not in the chat")
	ErrAlreadyInChat = NewCodeError(1202, "user is already in the chat")
	ErrChatNotFound  = NewCodeError(1203, "chat does not exist")
	ErrUserNotFound  = NewCodeError(1204, "user does not exist")
	ErrInternal      = NewCodeError(1500, "internal error")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{Code: code, Msg: msg}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

func (e CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e CodeError) Is(err error) bool {
	other, ok := err.(CodeError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}
