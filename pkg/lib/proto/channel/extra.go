package channel

import (
	"fmt"
)

// ============================================================================
//                              ExtraInfo - 通道附加信息
// ============================================================================

// ExtraKind 附加信息种类
type ExtraKind uint8

const (
	// ExtraNone 无附加信息
	ExtraNone ExtraKind = iota
	// ExtraAnnouncement 通道公告（发布者在查询结果中携带）
	ExtraAnnouncement
	// ExtraKeyRequest 单键请求
	ExtraKeyRequest
	// ExtraMultiKeyRequest 多键请求
	ExtraMultiKeyRequest
	// ExtraMultiKeyInfo 多键存在性应答
	ExtraMultiKeyInfo
)

// String 返回种类名称
func (k ExtraKind) String() string {
	switch k {
	case ExtraAnnouncement:
		return "Announcement"
	case ExtraKeyRequest:
		return "KeyRequest"
	case ExtraMultiKeyRequest:
		return "MultiKeyRequest"
	case ExtraMultiKeyInfo:
		return "MultiKeyInfo"
	default:
		return "None"
	}
}

// Extra 附加信息，至多一个字段非空
type Extra struct {
	Announcement    *Announcement
	KeyRequest      *KeyRequest
	MultiKeyRequest *MultiKeyRequest
	MultiKeyInfo    *MultiKeyInfo
}

// Kind 返回附加信息种类
func (e *Extra) Kind() ExtraKind {
	switch {
	case e == nil:
		return ExtraNone
	case e.Announcement != nil:
		return ExtraAnnouncement
	case e.KeyRequest != nil:
		return ExtraKeyRequest
	case e.MultiKeyRequest != nil:
		return ExtraMultiKeyRequest
	case e.MultiKeyInfo != nil:
		return ExtraMultiKeyInfo
	default:
		return ExtraNone
	}
}

// Scope 返回附加信息携带的 (版本, 通道码)；公告没有通道码
func (e *Extra) Scope() (version int32, code string, ok bool) {
	switch e.Kind() {
	case ExtraKeyRequest:
		return e.KeyRequest.Version, e.KeyRequest.Code, true
	case ExtraMultiKeyRequest:
		return e.MultiKeyRequest.Version, e.MultiKeyRequest.Code, true
	case ExtraMultiKeyInfo:
		return e.MultiKeyInfo.Version, e.MultiKeyInfo.Code, true
	default:
		return 0, "", false
	}
}

// Marshal 编码
func (e *Extra) Marshal() []byte {
	var enc encoder
	switch e.Kind() {
	case ExtraAnnouncement:
		enc.message(1, e.Announcement.Marshal())
	case ExtraKeyRequest:
		enc.message(2, e.KeyRequest.Marshal())
	case ExtraMultiKeyRequest:
		enc.message(3, e.MultiKeyRequest.Marshal())
	case ExtraMultiKeyInfo:
		enc.message(4, e.MultiKeyInfo.Marshal())
	}
	return enc.b
}

// Unmarshal 解码
func (e *Extra) Unmarshal(b []byte) error {
	*e = Extra{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			e.Announcement = &Announcement{}
			return e.Announcement.Unmarshal(f.v)
		case 2:
			e.KeyRequest = &KeyRequest{}
			return e.KeyRequest.Unmarshal(f.v)
		case 3:
			e.MultiKeyRequest = &MultiKeyRequest{}
			return e.MultiKeyRequest.Unmarshal(f.v)
		case 4:
			e.MultiKeyInfo = &MultiKeyInfo{}
			return e.MultiKeyInfo.Unmarshal(f.v)
		}
		return nil
	})
}

// DecodeExtra 解码附加信息；空输入返回 nil
func DecodeExtra(b []byte) (*Extra, error) {
	if len(b) == 0 {
		return nil, nil
	}
	e := &Extra{}
	if err := e.Unmarshal(b); err != nil {
		return nil, err
	}
	return e, nil
}

// ============================================================================
//                              Announcement
// ============================================================================

// Announcement 通道公告：发布者声明某流程版本下可提供的通道
type Announcement struct {
	Version    int32
	Definition []byte
	Geometry   []byte // nil 表示无几何信息
	Channels   []string
}

// HasChannel 公告是否列出指定通道码
func (a *Announcement) HasChannel(code string) bool {
	for _, c := range a.Channels {
		if c == code {
			return true
		}
	}
	return false
}

// Marshal 编码
func (a *Announcement) Marshal() []byte {
	var enc encoder
	enc.int64(1, int64(a.Version))
	enc.bytes(2, a.Definition)
	enc.bool(3, a.Geometry != nil)
	enc.bytes(4, a.Geometry)
	enc.repeatedString(5, a.Channels)
	return enc.b
}

// Unmarshal 解码
func (a *Announcement) Unmarshal(b []byte) error {
	*a = Announcement{}
	hasGeometry := false
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			a.Version = int32(f.int64())
		case 2:
			a.Definition = f.bytesCopy()
		case 3:
			hasGeometry = f.bool()
		case 4:
			a.Geometry = f.bytesCopy()
		case 5:
			a.Channels = append(a.Channels, f.string())
		}
		return nil
	})
	if err != nil {
		return err
	}
	if hasGeometry && a.Geometry == nil {
		a.Geometry = []byte{}
	}
	return nil
}

// ============================================================================
//                              键请求与应答
// ============================================================================

// KeyRequest 单键请求
type KeyRequest struct {
	Version int32
	Code    string
	Key     string
}

// Marshal 编码
func (r *KeyRequest) Marshal() []byte {
	var enc encoder
	enc.int64(1, int64(r.Version))
	enc.string(2, r.Code)
	enc.string(3, r.Key)
	return enc.b
}

// Unmarshal 解码
func (r *KeyRequest) Unmarshal(b []byte) error {
	*r = KeyRequest{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.Version = int32(f.int64())
		case 2:
			r.Code = f.string()
		case 3:
			r.Key = f.string()
		}
		return nil
	})
}

// MultiKeyRequest 多键请求
type MultiKeyRequest struct {
	Version int32
	Code    string
	Keys    []string
}

// Marshal 编码
func (r *MultiKeyRequest) Marshal() []byte {
	var enc encoder
	enc.int64(1, int64(r.Version))
	enc.string(2, r.Code)
	enc.repeatedString(3, r.Keys)
	return enc.b
}

// Unmarshal 解码
func (r *MultiKeyRequest) Unmarshal(b []byte) error {
	*r = MultiKeyRequest{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.Version = int32(f.int64())
		case 2:
			r.Code = f.string()
		case 3:
			r.Keys = append(r.Keys, f.string())
		}
		return nil
	})
}

// KeyInfo 单个键的存在性与长度
type KeyInfo struct {
	Key    string
	Found  bool
	Length int64
}

func (k *KeyInfo) marshal() []byte {
	var enc encoder
	enc.string(1, k.Key)
	enc.bool(2, k.Found)
	if k.Found {
		enc.int64(3, k.Length)
	}
	return enc.b
}

func (k *KeyInfo) unmarshal(b []byte) error {
	*k = KeyInfo{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			k.Key = f.string()
		case 2:
			k.Found = f.bool()
		case 3:
			k.Length = f.int64()
		}
		return nil
	})
}

// MultiKeyInfo 多键存在性应答
type MultiKeyInfo struct {
	Version int32
	Code    string
	Keys    []KeyInfo
}

// Marshal 编码
func (m *MultiKeyInfo) Marshal() []byte {
	var enc encoder
	enc.int64(1, int64(m.Version))
	enc.string(2, m.Code)
	for i := range m.Keys {
		enc.message(3, m.Keys[i].marshal())
	}
	return enc.b
}

// Unmarshal 解码
func (m *MultiKeyInfo) Unmarshal(b []byte) error {
	*m = MultiKeyInfo{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Version = int32(f.int64())
		case 2:
			m.Code = f.string()
		case 3:
			var k KeyInfo
			if err := k.unmarshal(f.v); err != nil {
				return fmt.Errorf("key info: %w", err)
			}
			m.Keys = append(m.Keys, k)
		}
		return nil
	})
}
