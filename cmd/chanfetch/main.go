// Package main 提供 chanfetch 命令行入口
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dep2p/go-chanfetch"
	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
)

var logger = log.Logger("chanfetch/cmd")

// command 子命令
type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"serve", "发布本地存储中的通道并持续应答", runServe},
	{"get", "从远端发布者获取一个键", runGet},
	{"put", "向本地存储写入一个键", runPut},
	{"ls", "列出本地存储中通道的键", runList},
	{"cert", "签发使用证书", runCert},
	{"id", "显示（或生成）节点身份", runID},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printHelp()
		return nil
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		printHelp()
		return nil
	case "-version", "--version", "version":
		fmt.Println(chanfetch.VersionInfo())
		return nil
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(args[1:])
		}
	}
	printHelp()
	return fmt.Errorf("unknown command %q", args[0])
}

// ═══════════════════════════════════════════════════════════════════════════
// 公共参数
// ═══════════════════════════════════════════════════════════════════════════

// nodeFlags 启动节点的命令共用的参数
type nodeFlags struct {
	configFile   string
	listen       string
	identityFile string
	dataDir      string
	certFile     string
	logFile      string
	logLevel     string
	peers        peerList
	trusted      stringList
}

func (f *nodeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configFile, "config", "", "配置文件路径")
	fs.StringVar(&f.listen, "listen", "", "QUIC 监听地址（默认: 0.0.0.0:4001）")
	fs.StringVar(&f.identityFile, "identity", "", "身份密钥文件路径")
	fs.StringVar(&f.dataDir, "data-dir", "", "数据目录（默认: ./data）")
	fs.StringVar(&f.certFile, "cert", "", "本节点的使用证书文件")
	fs.StringVar(&f.logFile, "log", "", "日志文件路径（默认输出到 stderr）")
	fs.StringVar(&f.logLevel, "log-level", "", "日志级别 (debug/info/warn/error)")
	fs.Var(&f.peers, "peer", "已知节点 <peerID>@<host:port>，可重复")
	fs.Var(&f.trusted, "trust", "受信任的证书签发者公钥（Base58），可重复")
}

// loadConfig 加载配置文件并应用命令行覆盖
//
// 优先级：命令行参数 > 配置文件 > 默认值。
func (f *nodeFlags) loadConfig(fs *flag.FlagSet) (*config.Config, error) {
	cfg := config.NewConfig()
	if f.configFile != "" {
		loaded, err := config.Load(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}
	if isFlagSet(fs, "listen") {
		cfg.Transport.ListenAddr = f.listen
	}
	if isFlagSet(fs, "identity") {
		cfg.Identity.KeyFile = f.identityFile
	}
	if isFlagSet(fs, "data-dir") {
		cfg.Storage.DataDir = f.dataDir
	}
	if isFlagSet(fs, "cert") {
		cfg.Certificate.File = f.certFile
	}
	if isFlagSet(fs, "log") {
		cfg.Log.File = f.logFile
	}
	if isFlagSet(fs, "log-level") {
		cfg.Log.Level = f.logLevel
	}
	cfg.Certificate.TrustedIssuers = append(cfg.Certificate.TrustedIssuers, f.trusted...)
	cfg.KnownPeers = append(cfg.KnownPeers, f.peers...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging 按配置初始化日志；返回需要在退出时关闭的文件
func setupLogging(cfg *config.Config) (*os.File, error) {
	if cfg.Log.File == "" {
		return nil, log.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o750); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	if err := log.Setup(file, cfg.Log.Level, cfg.Log.Format); err != nil {
		_ = file.Close()
		return nil, err
	}
	return file, nil
}

// peerList 可重复的 -peer 参数
type peerList []config.KnownPeer

func (p *peerList) String() string {
	parts := make([]string, 0, len(*p))
	for _, kp := range *p {
		parts = append(parts, kp.PeerID+"@"+strings.Join(kp.Addrs, ","))
	}
	return strings.Join(parts, " ")
}

func (p *peerList) Set(s string) error {
	id, addr, ok := strings.Cut(s, "@")
	if !ok || id == "" || addr == "" {
		return fmt.Errorf("peer must be <peerID>@<host:port>: %q", s)
	}
	*p = append(*p, config.KnownPeer{PeerID: id, Addrs: strings.Split(addr, ",")})
	return nil
}

// stringList 可重复的字符串参数
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}

func printHelp() {
	fmt.Println("chanfetch - P2P 数据通道键检索")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  chanfetch <命令> [选项]")
	fmt.Println()
	fmt.Println("命令:")
	for _, c := range commands {
		fmt.Printf("  %-8s %s\n", c.name, c.usage)
	}
	fmt.Println()
	fmt.Println("每个命令的选项: chanfetch <命令> -h")
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════════════════")
	fmt.Println("使用示例")
	fmt.Println("═══════════════════════════════════════════════════════════════════════════")
	fmt.Println()
	fmt.Println("  # 写入并发布")
	fmt.Println("  chanfetch put -proc <uuid> -code elevation -key tile/1 -file tile1.bin")
	fmt.Println("  chanfetch serve -proc <uuid> -code elevation -identity node.key")
	fmt.Println()
	fmt.Println("  # 在另一台机器上获取")
	fmt.Println("  chanfetch get -listen 0.0.0.0:4002 -peer <peerID>@10.0.0.1:4001 \\")
	fmt.Println("      -proc <uuid> -code elevation -key tile/1 -out tile1.bin")
	fmt.Println()
	fmt.Println("  # 签发证书（签发者私钥 issuer.key）")
	fmt.Println("  chanfetch cert -issuer issuer.key -subject <peerID> -proc <uuid> -out node.cert")
	fmt.Println()
}
