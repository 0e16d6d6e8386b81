// Package repository 定义任务存储端口
package repository

import "context"

// TxKey 上下文中保存当前事务的键
type TxKey struct{}

// Transactor 在同一事务中执行 fn；fn 内的仓储调用经由 ctx 共享该事务
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
