// Package voroclust implements VoroClust, a density based clustering
// method built on a sphere cover of the data.
//
// A random maximal subset of points, no two closer than the radius,
// becomes the centers of equal spheres that cover every point. Each
// sphere's interior count estimates local density. Spheres whose centers
// are closer than twice the radius are adjacent, and clusters grow over
// that graph from the densest spheres outward, stopping at spheres that
// sit in a valley between peaks (detail ceiling) or far down a slope
// (descent limit). Points are then labeled from the spheres that contain
// them, or from the nearest eligible center.
//
// Basic usage:
//
//	cfg := voroclust.DefaultConfig()
//	cfg.Radius = 0.1
//	v, err := voroclust.New(data, n, dims, cfg)
//	if err != nil {
//		return err
//	}
//	if err := v.Execute(ctx, seed); err != nil {
//		return err
//	}
//	labels := v.Labels() // labels[i] is the cluster of point i
//
// After Execute, relabeling is cheap:
//
//	v.LabelByMaxClusters(5) // keep the 5 largest clusters
//	v.LabelNoise(0.01)      // smallest clusters up to 1% of points become -1
//
// # Reuse
//
// The sphere cover is the only step that depends on the radius and the
// most expensive one. WriteSpheres saves it; LoadSpheres on a fresh
// instance makes the next Execute skip straight to propagation, which is
// how DetailCeiling and DescentLimit are tuned. The data tree can be
// saved and reloaded the same way with WriteDataTree and Config.TreePath.
package voroclust
