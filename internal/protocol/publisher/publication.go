package publisher

import (
	"sort"
	"strings"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// Pipeline 发布的流程描述
type Pipeline struct {
	// Proc 流程引用（GUID + 版本）
	Proc types.ProcRef

	// Name 与 Description 用于关键字查询匹配
	Name        string
	Description string

	// Definition 流程定义
	Definition []byte

	// Geometry 可选的几何信息，nil 表示没有
	Geometry []byte
}

// publication 发布表中的一个流程（由 Publisher 锁保护）
type publication struct {
	pipeline Pipeline
	keywords map[string]struct{}
	channels map[string]interfaces.KeyProvider
}

func newPublication(p Pipeline) *publication {
	pub := &publication{channels: make(map[string]interfaces.KeyProvider)}
	pub.update(p)
	return pub
}

func (pub *publication) update(p Pipeline) {
	pub.pipeline = p
	pub.keywords = make(map[string]struct{})
	pub.keywords[p.Proc.ID.String()] = struct{}{}
	for _, w := range strings.Fields(strings.ToLower(p.Name + " " + p.Description)) {
		pub.keywords[w] = struct{}{}
	}
}

// matches 查询字符串等于流程 GUID，或其中每个词都是关键字
func (pub *publication) matches(search string) bool {
	if search == pub.pipeline.Proc.ID.String() {
		return true
	}
	words := strings.Fields(strings.ToLower(search))
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if _, ok := pub.keywords[w]; !ok {
			return false
		}
	}
	return true
}

func (pub *publication) codes() []string {
	codes := make([]string, 0, len(pub.channels))
	for code := range pub.channels {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (pub *publication) announcement() *pb.Announcement {
	return &pb.Announcement{
		Version:    pub.pipeline.Proc.Version,
		Definition: pub.pipeline.Definition,
		Geometry:   pub.pipeline.Geometry,
		Channels:   pub.codes(),
	}
}
