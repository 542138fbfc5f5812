package internal

import "errors"

// ErrClosed 在已关闭的组件上调用操作时返回
var ErrClosed = errors.New("已关闭")
