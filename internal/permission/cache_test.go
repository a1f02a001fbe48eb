package permission_test

import (
	"context"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	permissionDatamodel "github.com/frahmantamala/memory-permissions/internal/core/datamodel/permission"
	"github.com/frahmantamala/memory-permissions/internal/core/events"
	"github.com/frahmantamala/memory-permissions/internal/permission"
	permissionPostgres "github.com/frahmantamala/memory-permissions/internal/permission/postgres"
	userPostgres "github.com/frahmantamala/memory-permissions/internal/user/postgres"
	"github.com/frahmantamala/memory-permissions/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

// pausingRepository holds the first Find after it has read the row, until release is closed.
type pausingRepository struct {
	permission.RepositoryAPI
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausingRepository) Find(ctx context.Context, userID, memoryID string) (*permissionDatamodel.MemoryPermission, error) {
	row, err := p.RepositoryAPI.Find(ctx, userID, memoryID)
	p.once.Do(func() {
		close(p.loaded)
		<-p.release
	})
	return row, err
}

var _ = Describe("RedisCache", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		cache  *permission.RedisCache
		ctx    context.Context
	)

	BeforeEach(func() {
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)
		cache = permission.NewRedisCache(client, 30*time.Second, logger.Discard())
		ctx = context.Background()
	})

	It("misses on an empty cache", func() {
		_, ok := cache.Get(ctx, "u1", "m1")
		Expect(ok).To(BeFalse())
	})

	It("stores kinds under a per-user-per-memory key with a TTL", func() {
		cache.Set(ctx, "u1", "m1", 0, permission.Set{permission.KindEdit, permission.KindOwner})

		Expect(mr.Exists(permission.CacheKey("u1", "m1"))).To(BeTrue())
		Expect(mr.TTL(permission.CacheKey("u1", "m1"))).To(Equal(30 * time.Second))

		got, ok := cache.Get(ctx, "u1", "m1")
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(permission.Set{permission.KindEdit, permission.KindOwner}))
	})

	It("caches an empty set as a hit", func() {
		cache.Set(ctx, "u1", "m1", 0, permission.Set{})
		got, ok := cache.Get(ctx, "u1", "m1")
		Expect(ok).To(BeTrue())
		Expect(got).To(BeEmpty())
	})

	It("expires entries", func() {
		cache.Set(ctx, "u1", "m1", 0, permission.Set{permission.KindEdit})
		mr.FastForward(31 * time.Second)
		_, ok := cache.Get(ctx, "u1", "m1")
		Expect(ok).To(BeFalse())
	})

	It("treats a corrupt entry as a miss", func() {
		Expect(mr.Set(permission.CacheKey("u1", "m1"), "{not json")).To(Succeed())
		_, ok := cache.Get(ctx, "u1", "m1")
		Expect(ok).To(BeFalse())
	})

	It("degrades to a miss when redis is down", func() {
		mr.Close()
		_, ok := cache.Get(ctx, "u1", "m1")
		Expect(ok).To(BeFalse())
		cache.Set(ctx, "u1", "m1", 0, permission.Set{permission.KindEdit})
	})

	It("bumps the generation on invalidate", func() {
		gen, ok := cache.Generation(ctx, "u1", "m1")
		Expect(ok).To(BeTrue())
		Expect(gen).To(BeZero())

		Expect(cache.Invalidate(ctx, "u1", "m1")).To(Succeed())
		gen, ok = cache.Generation(ctx, "u1", "m1")
		Expect(ok).To(BeTrue())
		Expect(gen).To(Equal(int64(1)))
		Expect(mr.TTL(permission.GenerationKey("u1", "m1"))).To(BeNumerically(">", 0))
	})

	It("drops a write taken before an invalidate", func() {
		gen, _ := cache.Generation(ctx, "u1", "m1")
		Expect(cache.Invalidate(ctx, "u1", "m1")).To(Succeed())

		cache.Set(ctx, "u1", "m1", gen, permission.Set{permission.KindEdit})
		_, ok := cache.Get(ctx, "u1", "m1")
		Expect(ok).To(BeFalse())

		gen, _ = cache.Generation(ctx, "u1", "m1")
		cache.Set(ctx, "u1", "m1", gen, permission.Set{permission.KindEdit})
		got, ok := cache.Get(ctx, "u1", "m1")
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(permission.Set{permission.KindEdit}))
	})

	It("reports an unreadable generation", func() {
		mr.Close()
		_, ok := cache.Generation(ctx, "u1", "m1")
		Expect(ok).To(BeFalse())
	})

	It("is invalidated by grant change events", func() {
		bus := events.NewEventBus(logger.Discard())
		permission.RegisterCacheInvalidation(bus, cache)

		cache.Set(ctx, "u1", "m1", 0, permission.Set{permission.KindEdit})
		cache.Set(ctx, "u1", "m2", 0, permission.Set{permission.KindEdit})

		ev := events.NewGrantChanged(events.GrantDeleted, "g1", "u1", "m1", nil)
		Expect(bus.Publish(ctx, ev)).To(Succeed())

		Expect(mr.Exists(permission.CacheKey("u1", "m1"))).To(BeFalse())
		Expect(mr.Exists(permission.CacheKey("u1", "m2"))).To(BeTrue())
	})

	Describe("in front of the service", func() {
		It("serves reads from the cache and stays fresh after writes", func() {
			db := openTestDB()
			users := userPostgres.NewUserRepository(db)
			bus := events.NewEventBus(logger.Discard())
			permission.RegisterCacheInvalidation(bus, cache)
			svc := permission.NewService(permissionPostgres.NewPermissionRepository(db), users, cache, bus, permission.Options{}, logger.Discard())

			owner := seedUser(users, "owner@email.com")
			other := seedUser(users, "other@email.com")

			kinds, err := svc.GetUserPermissions(ctx, other.ID, "M1")
			Expect(err).NotTo(HaveOccurred())
			Expect(kinds).To(BeEmpty())
			Expect(mr.Exists(permission.CacheKey(other.ID, "M1"))).To(BeTrue())

			_, err = svc.Assign(ctx, "M1", other.ID, owner.ID, permission.NewSet(permission.KindEdit))
			Expect(err).NotTo(HaveOccurred())
			Expect(mr.Exists(permission.CacheKey(other.ID, "M1"))).To(BeFalse())

			kinds, err = svc.GetUserPermissions(ctx, other.ID, "M1")
			Expect(err).NotTo(HaveOccurred())
			Expect(kinds).To(Equal(permission.Set{permission.KindEdit}))

			_, err = svc.Revoke(ctx, "M1", other.ID, permission.NewSet(permission.KindEdit))
			Expect(err).NotTo(HaveOccurred())

			kinds, err = svc.GetUserPermissions(ctx, other.ID, "M1")
			Expect(err).NotTo(HaveOccurred())
			Expect(kinds).To(BeEmpty())
		})

		DescribeTable("does not cache a read that raced a committed write",
			func(revoke bool) {
				db := openTestDB()
				users := userPostgres.NewUserRepository(db)
				bus := events.NewEventBus(logger.Discard())
				permission.RegisterCacheInvalidation(bus, cache)
				repo := permissionPostgres.NewPermissionRepository(db)
				writer := permission.NewService(repo, users, cache, bus, permission.Options{}, logger.Discard())

				owner := seedUser(users, "owner@email.com")
				other := seedUser(users, "other@email.com")

				want := permission.NewSet(permission.KindEdit)
				if revoke {
					_, err := writer.Assign(ctx, "M1", other.ID, owner.ID, permission.NewSet(permission.KindEdit))
					Expect(err).NotTo(HaveOccurred())
					want = permission.Set{}
				}

				paused := &pausingRepository{RepositoryAPI: repo, loaded: make(chan struct{}), release: make(chan struct{})}
				reader := permission.NewService(paused, users, cache, bus, permission.Options{}, logger.Discard())

				done := make(chan permission.Set, 1)
				go func() {
					defer GinkgoRecover()
					kinds, err := reader.GetUserPermissions(ctx, other.ID, "M1")
					Expect(err).NotTo(HaveOccurred())
					done <- kinds
				}()
				Eventually(paused.loaded).Should(BeClosed())

				var err error
				if revoke {
					_, err = writer.Revoke(ctx, "M1", other.ID, permission.NewSet(permission.KindEdit))
				} else {
					_, err = writer.Assign(ctx, "M1", other.ID, owner.ID, permission.NewSet(permission.KindEdit))
				}
				Expect(err).NotTo(HaveOccurred())

				close(paused.release)
				Eventually(done).Should(Receive())

				kinds, err := reader.GetUserPermissions(ctx, other.ID, "M1")
				Expect(err).NotTo(HaveOccurred())
				Expect(kinds).To(Equal(want))
			},
			Entry("assign", false),
			Entry("revoke", true),
		)
	})
})
