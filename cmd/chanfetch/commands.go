package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-chanfetch"
	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/internal/core/certificate"
	"github.com/dep2p/go-chanfetch/internal/core/identity"
	"github.com/dep2p/go-chanfetch/internal/core/storage"
	"github.com/dep2p/go-chanfetch/internal/protocol/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// channelFlags 通道标识参数
type channelFlags struct {
	proc    string
	version int
	code    string
}

func (f *channelFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.proc, "proc", "", "流程 GUID")
	fs.IntVar(&f.version, "version", 1, "流程版本")
	fs.StringVar(&f.code, "code", "", "通道代码")
}

func (f *channelFlags) channelID() (types.ChannelID, error) {
	id, err := uuid.Parse(f.proc)
	if err != nil {
		return types.ChannelID{}, fmt.Errorf("invalid -proc %q: %w", f.proc, err)
	}
	if f.code == "" {
		return types.ChannelID{}, errors.New("-code is required")
	}
	return types.ChannelID{Proc: types.ProcRef{ID: id, Version: int32(f.version)}, Code: f.code}, nil
}

// startNode 按命令行参数启动节点
func startNode(ctx context.Context, cfg *config.Config) (*chanfetch.Node, error) {
	fmt.Printf("📦 %s\n", chanfetch.VersionInfo())
	node, err := chanfetch.Start(ctx, chanfetch.WithConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("启动失败: %w", err)
	}
	info := node.PeerInfo()
	fmt.Printf("节点 ID: %s\n", info.ID)
	for _, a := range info.Addrs {
		fmt.Printf("监听地址: %s\n", a)
	}
	return node, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// serve
// ═══════════════════════════════════════════════════════════════════════════

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var nf nodeFlags
	var cf channelFlags
	nf.register(fs)
	cf.register(fs)
	definition := fs.String("definition", "", "流程定义文件（随通道公告发送）")
	geometry := fs.String("geometry", "", "几何信息文件（可选）")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := cf.channelID()
	if err != nil {
		return err
	}
	cfg, err := nf.loadConfig(fs)
	if err != nil {
		return err
	}
	if cfg.Storage.DataDir == "" {
		return errors.New("serve requires a data directory")
	}
	logFile, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer func() { _ = logFile.Close() }()
	}

	def, err := readOptional(*definition)
	if err != nil {
		return err
	}
	geo, err := readOptional(*geometry)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := startNode(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = node.Close() }()

	src, err := node.PublishStored(id, def, geo)
	if err != nil {
		return fmt.Errorf("发布通道失败: %w", err)
	}
	keys, err := src.Keys()
	if err != nil {
		return err
	}
	logger.Info("通道已上线", "channel", id.String(), "keys", len(keys))
	fmt.Printf("正在发布 %s（%d 个键），按 Ctrl+C 退出\n", id, len(keys))

	waitForSignal()
	fmt.Println("\n正在关闭节点...")
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// get
// ═══════════════════════════════════════════════════════════════════════════

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	var nf nodeFlags
	var cf channelFlags
	nf.register(fs)
	cf.register(fs)
	key := fs.String("key", "", "要获取的键")
	out := fs.String("out", "", "输出文件（默认写到 stdout）")
	timeout := fs.Duration("timeout", 2*time.Minute, "总超时")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("-key is required")
	}

	id, err := cf.channelID()
	if err != nil {
		return err
	}
	cfg, err := nf.loadConfig(fs)
	if err != nil {
		return err
	}
	if !isFlagSet(fs, "data-dir") && nf.configFile == "" {
		// 只取值时不需要持久化存储
		cfg.Storage.DataDir = ""
	}
	logFile, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer func() { _ = logFile.Close() }()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	node, err := startNode(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = node.Close() }()

	start := time.Now()
	value, err := node.Channel(id).GetKey(ctx, *key, channel.FromRemote)
	if err != nil {
		return fmt.Errorf("获取 %s 失败: %w", *key, err)
	}
	logger.Info("获取完成", "key", *key, "size", len(value), "elapsed", time.Since(start))

	if *out == "" {
		_, err = os.Stdout.Write(value)
		return err
	}
	if err := os.WriteFile(*out, value, 0o644); err != nil {
		return err
	}
	fmt.Printf("已写入 %s（%d 字节，耗时 %s）\n", *out, len(value), time.Since(start).Round(time.Millisecond))
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// put / ls
// ═══════════════════════════════════════════════════════════════════════════

func runPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	var cf channelFlags
	cf.register(fs)
	dataDir := fs.String("data-dir", "./data", "数据目录")
	key := fs.String("key", "", "键")
	file := fs.String("file", "", "值文件；为 - 时从 stdin 读取")
	value := fs.String("value", "", "值（与 -file 二选一）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("-key is required")
	}

	id, err := cf.channelID()
	if err != nil {
		return err
	}

	var data []byte
	switch {
	case *file == "-":
		data, err = io.ReadAll(os.Stdin)
	case *file != "":
		data, err = os.ReadFile(*file)
	default:
		data = []byte(*value)
	}
	if err != nil {
		return err
	}

	store, err := openStore(*dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Channel(id).Put(*key, data); err != nil {
		return err
	}
	fmt.Printf("已写入 %s / %s（%d 字节）\n", id, *key, len(data))
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	var cf channelFlags
	cf.register(fs)
	dataDir := fs.String("data-dir", "./data", "数据目录")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := cf.channelID()
	if err != nil {
		return err
	}
	store, err := openStore(*dataDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	keys, err := store.Channel(id).Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

func openStore(dataDir string) (*storage.Store, error) {
	if dataDir == "" {
		return nil, errors.New("-data-dir is required")
	}
	sc := config.StorageConfig{DataDir: dataDir}
	return storage.Open(storage.DefaultOptions(sc.DBPath()))
}

// ═══════════════════════════════════════════════════════════════════════════
// cert / id
// ═══════════════════════════════════════════════════════════════════════════

func runCert(args []string) error {
	fs := flag.NewFlagSet("cert", flag.ExitOnError)
	issuerKey := fs.String("issuer", "", "签发者私钥文件（不存在时生成）")
	subject := fs.String("subject", "", "被授权节点的 Peer ID")
	proc := fs.String("proc", "", "被授权的流程 GUID")
	version := fs.Int("version", 1, "流程版本")
	ttl := fs.Duration("ttl", 24*time.Hour, "有效期")
	out := fs.String("out", "", "证书输出文件（默认写到 stdout）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *issuerKey == "" {
		return errors.New("-issuer is required")
	}
	sub, err := types.ParsePeerID(*subject)
	if err != nil {
		return err
	}
	procID, err := uuid.Parse(*proc)
	if err != nil {
		return fmt.Errorf("invalid -proc %q: %w", *proc, err)
	}
	if *ttl <= 0 {
		return errors.New("-ttl must be positive")
	}

	id, err := identity.LoadOrGenerate(*issuerKey)
	if err != nil {
		return err
	}
	authority := certificate.NewAuthority(id, nil)
	cert := authority.Issue(sub, types.ProcRef{ID: procID, Version: int32(*version)}, *ttl)
	pem := certificate.EncodePEM(cert)

	fmt.Fprintf(os.Stderr, "签发者: %s\n", certificate.EncodeIssuer(authority.PublicKey()))
	fmt.Fprintf(os.Stderr, "有效期至: %s\n", cert.NotAfter.Format(time.RFC3339))
	if *out == "" {
		_, err = os.Stdout.Write(pem)
		return err
	}
	return os.WriteFile(*out, pem, 0o600)
}

func runID(args []string) error {
	fs := flag.NewFlagSet("id", flag.ExitOnError)
	keyFile := fs.String("identity", "", "身份密钥文件（不存在时生成）")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var id *identity.Identity
	var err error
	if *keyFile == "" {
		id, err = identity.Generate()
	} else {
		id, err = identity.LoadOrGenerate(*keyFile)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Peer ID:    %s\n", id.ID())
	fmt.Printf("签发者公钥: %s\n", certificate.EncodeIssuer(id.PublicKey()))
	return nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
