package main

import (
	"flag"
	"log"

	"github.com/hajimehoshi/ebiten/v2"

	client "knifearena/internal/client"
)

func main() {
	address := flag.String("addr", "127.0.0.1:8080", "服务器地址")
	proto := flag.String("proto", "tcp", "传输协议 (tcp 或 kcp)")
	name := flag.String("name", "player", "玩家名称")
	flag.Parse()

	dial := client.NewDialer(*address, *proto)
	session := client.NewSession(client.DefaultSessionConfig(*name), client.SystemClock, dial)
	defer session.Close()

	if err := session.Connect(); err != nil {
		log.Fatalf("连接服务器失败: %v", err)
	}

	viewer := client.NewViewer(session)

	// 设置窗口选项
	ebiten.SetWindowSize(client.ScreenWidth, client.ScreenHeight)
	ebiten.SetWindowTitle("KnifeArena 网络调试视图 [" + *address + "]")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeDisabled)
	ebiten.SetTPS(client.FPS)

	if err := ebiten.RunGame(viewer); err != nil {
		log.Fatal(err)
	}
}
