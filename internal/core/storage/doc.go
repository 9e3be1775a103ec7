// Package storage 提供基于 BadgerDB 的键值存储
//
// Store 封装 BadgerDB；ChannelStore 在 Store 之上按通道添加键前缀，
// 实现 interfaces.KeyProvider，可直接作为通道的本地数据源。
//
// # 键空间
//
//	c/<guid>[<version>]:<code>/<key>
//
// 数据目录为空时使用内存模式，进程退出后数据丢失。
package storage
