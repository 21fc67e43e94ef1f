// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package hosted_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/shirou/gopsutil/v4/process"

	"github.com/holomush/devhost/internal/hosted"
)

func freePort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	port := l.Addr().(*net.TCPAddr).Port
	Expect(l.Close()).To(Succeed())
	return port
}

func httpGet(u *url.URL, path string) string {
	resp, err := http.Get(u.JoinPath(path).String()) //nolint:noctx // test helper
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(body)
}

var _ = Describe("Supervisor with a real hosted instance", func() {
	var (
		ctx        context.Context
		cancel     context.CancelFunc
		supervisor *hosted.Supervisor
		pluginDir  string
		port       int
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)

		pluginDir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(pluginDir, "package.json"),
			[]byte(`{"name":"hello","version":"0.1.0","theiaPlugin":{"backend":"lib/backend.js"}}`), 0o600)).To(Succeed())

		port = freePort()
		builder := &hosted.EnvCommandBuilder{
			Argv:     []string{os.Args[0]},
			Hostname: "127.0.0.1",
		}

		var err error
		supervisor, err = hosted.NewSupervisor(builder,
			hosted.WithLogger(slog.New(slog.NewTextHandler(GinkgoWriter, nil))),
			hosted.WithStartupTimeout(10*time.Second),
			hosted.WithProbe(5, 100*time.Millisecond),
			hosted.WithBaseEnv(func() []string {
				return append(os.Environ(), "DEVHOST_TEST_HELPER=serve", "ELECTRON_RUN_AS_NODE=1")
			}),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if supervisor.IsRunning() {
			_ = supervisor.Terminate(ctx)
		}
		cancel()
	})

	It("launches, serves the plugin and terminates the whole tree", func() {
		endpoint, err := supervisor.Run(ctx, hosted.LaunchRequest{Location: "file://" + pluginDir, Port: port})
		Expect(err).NotTo(HaveOccurred())
		Expect(endpoint.Host).To(Equal("127.0.0.1:" + strconv.Itoa(port)))
		Expect(supervisor.IsRunning()).To(BeTrue())

		Expect(httpGet(endpoint, "/")).To(Equal(pluginDir))

		grandchild, err := strconv.ParseInt(strings.TrimSpace(httpGet(endpoint, "/grandchild")), 10, 32)
		Expect(err).NotTo(HaveOccurred())

		Expect(supervisor.Terminate(ctx)).To(Succeed())
		Expect(supervisor.IsRunning()).To(BeFalse())

		Eventually(func() bool {
			p, err := process.NewProcessWithContext(ctx, int32(grandchild))
			if err != nil {
				return true
			}
			status, err := p.StatusWithContext(ctx)
			return err != nil || (len(status) > 0 && status[0] == process.Zombie)
		}).WithTimeout(5 * time.Second).Should(BeTrue())
	})

	It("refuses a port that stays busy", func() {
		l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		Expect(err).NotTo(HaveOccurred())
		defer l.Close()

		_, err = supervisor.Run(ctx, hosted.LaunchRequest{Location: pluginDir, Port: port})
		Expect(err).To(MatchError(hosted.ErrPortInUse))
		Expect(supervisor.IsRunning()).To(BeFalse())
	})

	It("can launch again after terminating", func() {
		for range 2 {
			_, err := supervisor.Run(ctx, hosted.LaunchRequest{Location: pluginDir, Port: port})
			Expect(err).NotTo(HaveOccurred())
			Expect(supervisor.Terminate(ctx)).To(Succeed())
			Eventually(func() error {
				l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
				if err == nil {
					_ = l.Close()
				}
				return err
			}).WithTimeout(5 * time.Second).Should(Succeed())
		}
	})
})
