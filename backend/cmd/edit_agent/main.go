package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"fileCollab/backend/internal/client"
	"fileCollab/backend/internal/fileedit"
)

// 无界面的协作编辑客户端，用来在终端里验证整条链路：
// 登录 -> 建 ws -> 打开会话 -> 键入（debounce 广播）-> :save 条件写。
//
// 用法：
//   edit_agent -server http://127.0.0.1:8080 -user alice -pass secret -file <fileID>
//   每输入一行就整体替换缓冲并追加；:save 保存，:status 看状态，:quit 退出。

type loginResp struct {
	Token string `json:"token"`
	User  struct {
		ID   string `json:"_id"`
		Name string `json:"name"`
	} `json:"user"`
}

func login(server, username, password string) (*loginResp, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	post := func(path string) (*http.Response, error) {
		return http.Post(server+path, "application/json", bytes.NewReader(body))
	}

	resp, err := post("/v1/auth/login")
	if err != nil {
		return nil, err
	}
	// 账号不存在时顺手注册一个，省去两步操作
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if resp, err = post("/v1/auth/register"); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login failed: status %d", resp.StatusCode)
	}
	var lr loginResp
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "collab server base URL")
	username := flag.String("user", "", "username")
	password := flag.String("pass", "", "password")
	fileID := flag.String("file", "", "file id to open")
	flag.Parse()

	if *username == "" || *password == "" || *fileID == "" {
		flag.Usage()
		os.Exit(2)
	}

	lr, err := login(*server, *username, *password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	user := fileedit.User{ID: lr.User.ID, Name: lr.User.Name}
	log.Printf("logged in as %s (%s)", user.Name, user.ID)

	wsURL := strings.Replace(*server, "http", "ws", 1) + "/collab/ws"
	bus, err := client.DialWS(wsURL, lr.Token)
	if err != nil {
		log.Fatalf("dial ws: %v", err)
	}
	defer bus.Close()

	api := client.NewRESTDocumentAPI(*server, lr.Token)
	sess, err := fileedit.OpenSession(context.Background(), api, bus, *fileID, user, fileedit.Options{
		AutoSaveEvery: fileedit.DefaultAutoSaveEvery,
	})
	if err != nil {
		log.Fatalf("open session: %v", err)
	}
	defer sess.Close()

	st := sess.Snapshot()
	fmt.Printf("--- %s (v%d) ---\n%s\n---\n", *fileID, st.Version, st.Buffer)

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := sc.Text()
		switch line {
		case ":quit":
			return
		case ":save":
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := sess.Save(ctx)
			cancel()
			if err != nil {
				log.Printf("save: %v", err)
			}
			printStatus(sess)
		case ":status":
			printStatus(sess)
		default:
			st := sess.Snapshot()
			buf := st.Buffer
			if buf != "" {
				buf += "\n"
			}
			buf += line
			sess.EditBuffer(buf, len(buf))
		}
	}
}

func printStatus(sess *fileedit.Session) {
	st := sess.Snapshot()
	fmt.Printf("v%d dirty=%v status=%q collaborators=%d\n",
		st.Version, st.Dirty, st.LastSaveStatus, len(st.Roster))
	for _, c := range st.Cursors {
		fmt.Printf("  cursor %s@%d (%s)\n", c.User.Name, c.Position, c.Color)
	}
}
