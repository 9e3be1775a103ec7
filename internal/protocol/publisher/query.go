package publisher

import (
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
)

var _ interfaces.QueryResponder = (*Publisher)(nil)

// MatchQuery 实现 interfaces.QueryResponder
//
// 每个匹配且至少有一个通道的流程返回一条带通道公告的结果。
func (s *Publisher) MatchQuery(search string) []interfaces.QueryMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.QueryMatch
	for _, pub := range s.pubs {
		if len(pub.channels) == 0 || !pub.matches(search) {
			continue
		}
		extra := &pb.Extra{Announcement: pub.announcement()}
		out = append(out, interfaces.QueryMatch{
			DataSet: pub.pipeline.Proc.ID,
			Extra:   extra.Marshal(),
		})
	}
	return out
}
