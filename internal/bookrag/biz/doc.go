// Package biz 提供书籍问答服务的业务逻辑层。
//
// 该包采用分层架构，将业务逻辑拆分为以下组件：
//   - Segmenter: 负责章节解析与分块（句子边界、重叠窗口）
//   - Ingestor: 负责书籍摄取（读取来源、分块、嵌入、写入存储）
//   - Retriever: 负责检索（查询嵌入、向量搜索）
//   - Reranker: 负责候选精排（LLM 相关性评分、降级透传）
//   - Generator: 负责生成（上下文构建、引用校验、固定回答）
//   - ChatService: 组合以上组件，提供统一的服务接口
package biz
