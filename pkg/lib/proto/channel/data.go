package channel

import (
	"fmt"
	"time"

	"github.com/dep2p/go-chanfetch/pkg/types"
	"github.com/google/uuid"
)

// DefaultChunkSize 发布者默认的分块大小
const DefaultChunkSize = 65535

// ============================================================================
//                              DataInfo
// ============================================================================

// DataInfoRequest 数据信息请求（搜索）
type DataInfoRequest struct {
	DataSet uuid.UUID
	Extra   *Extra
}

// Marshal 编码
func (r *DataInfoRequest) Marshal() []byte {
	var enc encoder
	enc.uuid(1, r.DataSet)
	if r.Extra != nil {
		enc.message(2, r.Extra.Marshal())
	}
	return enc.b
}

// Unmarshal 解码
func (r *DataInfoRequest) Unmarshal(b []byte) error {
	*r = DataInfoRequest{}
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			r.DataSet, err = f.uuid()
		case 2:
			r.Extra = &Extra{}
			err = r.Extra.Unmarshal(f.v)
		}
		return err
	})
}

// DataInfo 数据信息应答
type DataInfo struct {
	DataSet       uuid.UUID
	Found         bool
	Length        int64
	ChunkSize     int32
	UseEncryption bool
	UseSigning    bool
	UsesHashCodes bool
	AllAvailable  bool
	Extra         *Extra
}

// Marshal 编码
func (d *DataInfo) Marshal() []byte {
	var enc encoder
	enc.uuid(1, d.DataSet)
	enc.bool(2, d.Found)
	enc.int64(3, d.Length)
	enc.int64(4, int64(d.ChunkSize))
	enc.bool(5, d.UseEncryption)
	enc.bool(6, d.UseSigning)
	enc.bool(7, d.UsesHashCodes)
	enc.bool(8, d.AllAvailable)
	if d.Extra != nil {
		enc.message(9, d.Extra.Marshal())
	}
	return enc.b
}

// Unmarshal 解码
func (d *DataInfo) Unmarshal(b []byte) error {
	*d = DataInfo{}
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			d.DataSet, err = f.uuid()
		case 2:
			d.Found = f.bool()
		case 3:
			d.Length = f.int64()
		case 4:
			d.ChunkSize = int32(f.int64())
		case 5:
			d.UseEncryption = f.bool()
		case 6:
			d.UseSigning = f.bool()
		case 7:
			d.UsesHashCodes = f.bool()
		case 8:
			d.AllAvailable = f.bool()
		case 9:
			d.Extra = &Extra{}
			err = d.Extra.Unmarshal(f.v)
		}
		return err
	})
}

// ============================================================================
//                              DataChunk
// ============================================================================

// DataChunkRequest 数据块请求（下载）
type DataChunkRequest struct {
	DataSet     uuid.UUID
	Offset      int64
	Size        int32
	Encrypted   bool
	Signed      bool
	Certificate *types.Certificate
	Extra       *Extra
}

// Marshal 编码
func (r *DataChunkRequest) Marshal() []byte {
	var enc encoder
	enc.uuid(1, r.DataSet)
	enc.int64(2, r.Offset)
	enc.int64(3, int64(r.Size))
	enc.bool(4, r.Encrypted)
	enc.bool(5, r.Signed)
	if r.Certificate != nil {
		enc.message(6, MarshalCertificate(r.Certificate))
	}
	if r.Extra != nil {
		enc.message(7, r.Extra.Marshal())
	}
	return enc.b
}

// Unmarshal 解码
func (r *DataChunkRequest) Unmarshal(b []byte) error {
	*r = DataChunkRequest{}
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			r.DataSet, err = f.uuid()
		case 2:
			r.Offset = f.int64()
		case 3:
			r.Size = int32(f.int64())
		case 4:
			r.Encrypted = f.bool()
		case 5:
			r.Signed = f.bool()
		case 6:
			r.Certificate, err = UnmarshalCertificate(f.v)
		case 7:
			r.Extra = &Extra{}
			err = r.Extra.Unmarshal(f.v)
		}
		return err
	})
}

// DataChunk 数据块应答
type DataChunk struct {
	DataSet uuid.UUID
	Offset  int64
	Data    []byte
	Extra   *Extra
}

// Marshal 编码
func (c *DataChunk) Marshal() []byte {
	var enc encoder
	enc.uuid(1, c.DataSet)
	enc.int64(2, c.Offset)
	enc.bytes(3, c.Data)
	if c.Extra != nil {
		enc.message(4, c.Extra.Marshal())
	}
	return enc.b
}

// Unmarshal 解码
func (c *DataChunk) Unmarshal(b []byte) error {
	*c = DataChunk{}
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			c.DataSet, err = f.uuid()
		case 2:
			c.Offset = f.int64()
		case 3:
			c.Data = f.bytesCopy()
		case 4:
			c.Extra = &Extra{}
			err = c.Extra.Unmarshal(f.v)
		}
		return err
	})
}

// ============================================================================
//                              Certificate
// ============================================================================

func marshalProcRef(p types.ProcRef) []byte {
	var enc encoder
	enc.uuid(1, p.ID)
	enc.int64(2, int64(p.Version))
	return enc.b
}

func unmarshalProcRef(b []byte) (types.ProcRef, error) {
	var p types.ProcRef
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			p.ID, err = f.uuid()
		case 2:
			p.Version = int32(f.int64())
		}
		return err
	})
	return p, err
}

func marshalCertificateBody(c *types.Certificate) *encoder {
	enc := &encoder{}
	enc.bytes(1, c.Issuer)
	enc.string(2, string(c.Subject))
	enc.message(3, marshalProcRef(c.Resource))
	enc.int64(4, c.NotBefore.UnixNano())
	enc.int64(5, c.NotAfter.UnixNano())
	return enc
}

// CertificateSigningBytes 返回证书待签名的规范编码（不含签名字段）
func CertificateSigningBytes(c *types.Certificate) []byte {
	return marshalCertificateBody(c).b
}

// MarshalCertificate 编码证书
func MarshalCertificate(c *types.Certificate) []byte {
	enc := marshalCertificateBody(c)
	enc.bytes(6, c.Signature)
	return enc.b
}

// UnmarshalCertificate 解码证书
func UnmarshalCertificate(b []byte) (*types.Certificate, error) {
	c := &types.Certificate{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			c.Issuer = f.bytesCopy()
		case 2:
			c.Subject = types.PeerID(f.string())
		case 3:
			c.Resource, err = unmarshalProcRef(f.v)
		case 4:
			c.NotBefore = time.Unix(0, f.int64())
		case 5:
			c.NotAfter = time.Unix(0, f.int64())
		case 6:
			c.Signature = f.bytesCopy()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("certificate: %w", err)
	}
	return c, nil
}
