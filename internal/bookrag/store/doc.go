// Package store 提供问答服务的数据存储层。
//
// 该包包含两类存储抽象：向量存储（Milvus 实现与内存实现）
// 负责书籍块向量的写入与相似度检索；关系存储（GORM 实现）
// 负责章节、块、会话与问答历史的持久化。
package store
