package main

import (
	adhoc "VisionBridge/Adhoc"
	"VisionBridge/bridge"
	"VisionBridge/engine"
	"VisionBridge/logger"
	"VisionBridge/monitor"
	"VisionBridge/registry"
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type configStruct struct {
	RPCPort          int    `yaml:"RPCPort"`
	HTTPPort         int    `yaml:"HTTPPort"`
	MetricsPort      int    `yaml:"MetricsPort"`
	WorkersNum       int    `yaml:"workersNum"`
	InstanceClass    string `yaml:"instanceClass"`
	UseRegServer     bool   `yaml:"UseRegServer"`
	RegServerPort    int    `yaml:"RegServerPort"`
	RegServerHost    string `yaml:"RegServerHost"`
	InferenceBackend string `yaml:"InferenceBackend"`
	ModelsDir        string `yaml:"ModelsDir"`
	SessionIdleMs    int    `yaml:"SessionIdleMs"`
}

func GetOutboundIP() (string, error) {
	// no packet is sent; dialing UDP only resolves the local egress address
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

func main() {
	ip, err := GetOutboundIP()
	if err != nil {
		fmt.Println("Failed to get outbound IP:", err)
		return
	}
	fmt.Println("Outbound IP:", ip)
	var wg sync.WaitGroup
	err = logger.InitProduction()
	if err != nil {
		return
	}
	defer logger.Sync()
	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	runtime.GOMAXPROCS(CPUNum)
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	configData, err := os.ReadFile("config.yaml")
	if err != nil {
		fmt.Println("Failed to read config file:", err)
		return
	}
	config := configStruct{}
	err = yaml.Unmarshal(configData, &config)
	if err != nil {
		fmt.Println("Failed to parse config file:", err)
		return
	}
	fmt.Println("   gRPC Port:", config.RPCPort)
	fmt.Println("   HTTP Port:", config.HTTPPort)
	fmt.Println("Metrics Port:", config.MetricsPort)
	fmt.Println("Configured Workers Num:", config.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")
	if config.WorkersNum <= 0 {
		config.WorkersNum = 1
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Invalid workersNum in config, defaulting to 1")
		fmt.Println(strings.Repeat("!", 64))
	} else if config.WorkersNum > CPUNum {
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Please noted that workersNum exceeds CPU cores, which may lead to performance degradation.")
		fmt.Println(strings.Repeat("!", 64))
	}
	if config.SessionIdleMs <= 0 {
		config.SessionIdleMs = 1000
	}
	if config.ModelsDir == "" {
		config.ModelsDir = "models"
	}
	fmt.Println("")
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("If you need GPU acceleration, please make sure that your GPU has enough memory to handle multiple instances.")
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")

	if err := engine.LoadEngine(config.InferenceBackend); err != nil {
		fmt.Println("Failed to load inference backend:", err)
		return
	}

	var InstanceClass int
	switch config.InstanceClass {
	case "Dml":
		InstanceClass = adhoc.DmlInstance
	case "Cuda":
		InstanceClass = adhoc.CudaInstance
	case "Rocm":
		InstanceClass = adhoc.RocmInstance
	case "Cpu":
		InstanceClass = adhoc.CpuInstance
	default:
		fmt.Println("Invalid instanceClass in config, defaulting to Cpu")
		InstanceClass = adhoc.CpuInstance
	}
	adhoc.RegServerCfg = adhoc.RegServerConfig{}
	adhoc.RegServerCfg.SetAddress(config.RegServerHost, config.RegServerPort)

	reg := registry.New()
	br := bridge.New(reg)
	bridge.JobQueue = make(chan bridge.JobPackage, config.WorkersNum)
	bridge.StartWorker(config.WorkersNum)

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	if config.UseRegServer {
		go adhoc.SendAliveMessage(ip, config.RPCPort, InstanceClass, ctx, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
		wg.Done()
	}

	fmt.Println("Starting gRPC Server")
	server := bridge.StartGRPCServer(br, config.RPCPort)
	go monitor.StartMon(config.MetricsPort, ctx)

	sessions := registry.NewSessionTable(reg, time.Duration(config.SessionIdleMs)*time.Millisecond)
	go startHTTPServer(br, reg, sessions, config.HTTPPort, config.ModelsDir)

	<-bridge.CloseChannel
	cancel()
	server.GracefulStop()
	fmt.Println("Done")
	wg.Wait()
	fmt.Println("Safely exited")
}
