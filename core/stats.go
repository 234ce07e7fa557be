package core

// ArenaStats buffer arena 运行时统计
type ArenaStats struct {
	PageSize    int    // 单页字节数
	Pages       int    // 当前总页数
	Free        int    // 空闲页数
	CheckedOut  int    // 已借出页数
	Expansions  uint64 // 扩容（翻倍）次数
	Exhausted   uint64 // 达到上限无法分配的次数
	BadReleases uint64 // 重复/非法归还次数
}

// StreamStats Stream 运行时统计
type StreamStats struct {
	ID          uint32
	Sink        string
	Mode        Mode
	CacheSize   int
	Cached      int    // 当前缓存中的 buffer 数
	Enabled     int    // 已启用的实体数
	Logged      int64  // log_count
	Blocked     int64  // block_count：缓存为空时同步补充的次数
	Filtered    int64  // 被 pre-filter 丢弃的事件数
	Dropped     int64  // 因分配失败丢弃的事件数
	Overwritten uint64 // ring 模式下被覆盖的 buffer 数
	Triggers    uint64 // trigger 触发的 flush 次数
	Refilled    uint64 // 补充线程累计补充的 buffer 数
}

// WriterStats Writer 运行时统计
type WriterStats struct {
	Name     string
	Refs     int32  // 引用它的 stream 数
	Bytes    uint64 // 已写入字节数（含文件头）
	Buffers  uint64 // 已写出的 buffer 数
	Direct   uint64 // 直写（cache_size == 0）记录数
	Dropped  uint64 // Writer 失败后丢弃的 buffer 数
	Pending  int64  // 已入队尚未写出的 buffer 数
	Seq      uint32 // 最近分配的序号
	Failed   bool   // 是否处于失败状态
	LastFail string
}

// Stats Runtime 汇总统计
type Stats struct {
	IPs     int
	Arena   ArenaStats
	Streams []StreamStats
	Writers []WriterStats
}
