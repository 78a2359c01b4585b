package export

import "fmt"

// Error はエクスポート処理のAPIエラーを表します。
// Code はクライアント向けのエラーコード、Message は利用者向けの説明です。
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error は error インターフェースを実装します。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap は内包するエラーを返します。
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
