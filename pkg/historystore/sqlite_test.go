package historystore_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/driftline/courier/pkg/chat"
	"github.com/driftline/courier/pkg/historystore"
)

var _ = Describe("SQLiteStore", func() {
	var (
		store *historystore.SQLiteStore
		ctx   context.Context
	)

	record := func(id, session, status string, created time.Time) *historystore.Record {
		return &historystore.Record{
			RequestID: id,
			SessionID: session,
			Status:    status,
			Prompt:    "prompt for " + id,
			CreatedAt: created,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = historystore.NewSQLiteStore(":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	Describe("NewSQLiteStore", func() {
		It("creates a store with an in-memory database", func() {
			Expect(store).NotTo(BeNil())
		})

		It("creates a store with a file database", func() {
			tmpDir := GinkgoT().TempDir()
			dbPath := filepath.Join(tmpDir, "history.db")

			s, err := historystore.NewSQLiteStore(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Put and Get", func() {
		It("stores and retrieves a record", func() {
			created := time.Now().Truncate(time.Millisecond)
			rec := record("r1", "s1", chat.HistoryProcessing, created)

			Expect(store.Put(ctx, rec)).To(Succeed())

			got, err := store.Get(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.RequestID).To(Equal("r1"))
			Expect(got.SessionID).To(Equal("s1"))
			Expect(got.Status).To(Equal(chat.HistoryProcessing))
			Expect(got.CreatedAt.UnixMilli()).To(Equal(created.UnixMilli()))
			Expect(got.FinishedAt).To(BeNil())
		})

		It("round-trips the finished timestamp", func() {
			finished := time.Now().Truncate(time.Millisecond)
			rec := record("r1", "s1", chat.HistoryCompleted, finished.Add(-time.Second))
			rec.Answer = "done"
			rec.FinishedAt = &finished

			Expect(store.Put(ctx, rec)).To(Succeed())

			got, err := store.Get(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Answer).To(Equal("done"))
			Expect(got.FinishedAt).NotTo(BeNil())
			Expect(got.FinishedAt.UnixMilli()).To(Equal(finished.UnixMilli()))
		})

		It("returns ErrNotFound for a missing record", func() {
			_, err := store.Get(ctx, "nope")
			Expect(err).To(HaveOccurred())

			var notFound historystore.ErrNotFound
			Expect(err).To(BeAssignableToTypeOf(notFound))
		})

		It("upserts on repeated puts for the same request id", func() {
			created := time.Now()
			rec := record("r1", "s1", chat.HistoryProcessing, created)
			Expect(store.Put(ctx, rec)).To(Succeed())

			finished := created.Add(2 * time.Second)
			rec.Status = chat.HistoryCompleted
			rec.Answer = "late answer"
			rec.FinishedAt = &finished
			Expect(store.Put(ctx, rec)).To(Succeed())

			all, err := store.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
			Expect(all[0].Status).To(Equal(chat.HistoryCompleted))
			Expect(all[0].Answer).To(Equal("late answer"))
		})
	})

	Describe("List", func() {
		It("returns records newest first", func() {
			base := time.Now()
			Expect(store.Put(ctx, record("r-old", "s1", chat.HistoryCompleted, base.Add(-2*time.Hour)))).To(Succeed())
			Expect(store.Put(ctx, record("r-new", "s1", chat.HistoryProcessing, base))).To(Succeed())
			Expect(store.Put(ctx, record("r-mid", "s1", chat.HistoryFailed, base.Add(-time.Hour)))).To(Succeed())

			all, err := store.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))
			Expect(all[0].RequestID).To(Equal("r-new"))
			Expect(all[1].RequestID).To(Equal("r-mid"))
			Expect(all[2].RequestID).To(Equal("r-old"))
		})

		It("returns an empty list on a fresh store", func() {
			all, err := store.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(BeEmpty())
		})
	})

	Describe("BySession", func() {
		It("returns only the session's records in chronological order", func() {
			base := time.Now()
			Expect(store.Put(ctx, record("r1", "s1", chat.HistoryCompleted, base))).To(Succeed())
			Expect(store.Put(ctx, record("r2", "s2", chat.HistoryCompleted, base.Add(time.Minute)))).To(Succeed())
			Expect(store.Put(ctx, record("r3", "s1", chat.HistoryCompleted, base.Add(2*time.Minute)))).To(Succeed())

			recs, err := store.BySession(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2))
			Expect(recs[0].RequestID).To(Equal("r1"))
			Expect(recs[1].RequestID).To(Equal("r3"))
		})
	})
})

var _ = Describe("MemoryStore", func() {
	var (
		store *historystore.MemoryStore
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = historystore.NewMemoryStore()
	})

	It("stores and retrieves a record", func() {
		rec := &historystore.Record{RequestID: "r1", SessionID: "s1", Status: chat.HistoryProcessing, CreatedAt: time.Now()}
		Expect(store.Put(ctx, rec)).To(Succeed())

		got, err := store.Get(ctx, "r1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.RequestID).To(Equal("r1"))
	})

	It("returns ErrNotFound for a missing record", func() {
		_, err := store.Get(ctx, "nope")
		var notFound historystore.ErrNotFound
		Expect(err).To(BeAssignableToTypeOf(notFound))
	})

	It("copies records on the way in and out", func() {
		rec := &historystore.Record{RequestID: "r1", Status: chat.HistoryProcessing, CreatedAt: time.Now()}
		Expect(store.Put(ctx, rec)).To(Succeed())

		rec.Status = chat.HistoryCompleted
		got, err := store.Get(ctx, "r1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(chat.HistoryProcessing))

		got.Status = chat.HistoryLost
		again, _ := store.Get(ctx, "r1")
		Expect(again.Status).To(Equal(chat.HistoryProcessing))
	})

	It("lists newest first and filters by session", func() {
		base := time.Now()
		Expect(store.Put(ctx, &historystore.Record{RequestID: "r1", SessionID: "s1", CreatedAt: base})).To(Succeed())
		Expect(store.Put(ctx, &historystore.Record{RequestID: "r2", SessionID: "s2", CreatedAt: base.Add(time.Minute)})).To(Succeed())

		all, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(2))
		Expect(all[0].RequestID).To(Equal("r2"))

		s1, err := store.BySession(ctx, "s1")
		Expect(err).NotTo(HaveOccurred())
		Expect(s1).To(HaveLen(1))
		Expect(s1[0].RequestID).To(Equal("r1"))
	})
})
