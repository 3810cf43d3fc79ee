package migrations

import "embed"

// Files 暴露会话存储的全部 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
