// Package cluster implements weighted k-means clustering.
//
// KMeans clusters points in Euclidean space and is used by parcellation to
// group streamline representations. Axial clusters undirected 3D lines and is
// used by the fibers estimator to match compartments across voxels.
package cluster
