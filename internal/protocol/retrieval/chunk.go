package retrieval

// chunk 键值的一个分块下载子请求
type chunk struct {
	req       *KeyRequest
	offset    int64
	size      int
	retries   int
	delivered bool
}

// whole 块是否覆盖整个键值（可以合并进多键批次）
func (c *chunk) whole() bool {
	return c.offset == 0 && int64(c.size) == c.req.length
}

// splitChunks 把 [0, length) 按 unit 切成 ceil(length/unit) 个不重叠的块
func splitChunks(r *KeyRequest, length int64, unit int) []*chunk {
	if length <= 0 {
		return nil
	}
	n := (length + int64(unit) - 1) / int64(unit)
	chunks := make([]*chunk, 0, n)
	for off := int64(0); off < length; off += int64(unit) {
		size := int64(unit)
		if length-off < size {
			size = length - off
		}
		chunks = append(chunks, &chunk{req: r, offset: off, size: int(size)})
	}
	return chunks
}
